// Package seed provides embedded demo playbooks so a fresh instance has
// content to explore.
package seed

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opatlas/opatlas/pkg/store"
	"github.com/opatlas/opatlas/pkg/types"
)

//go:embed *.md
var playbookFiles embed.FS

// frontmatter is the YAML header of a seed playbook file.
type frontmatter struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags,omitempty"`
	Triggers    []string `yaml:"triggers,omitempty"`
}

// Load reads all embedded markdown files and parses them into playbooks.
// Each file must have YAML frontmatter delimited by "---" markers.
func Load() ([]types.Playbook, error) {
	entries, err := playbookFiles.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("reading seed directory: %w", err)
	}

	playbooks := make([]types.Playbook, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		data, err := playbookFiles.ReadFile(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading seed playbook %s: %w", entry.Name(), err)
		}

		pb, err := parsePlaybook(data)
		if err != nil {
			return nil, fmt.Errorf("parsing seed playbook %s: %w", entry.Name(), err)
		}

		playbooks = append(playbooks, pb)
	}

	return playbooks, nil
}

// Apply loads the embedded playbooks into the store under the given
// workspace with the given author.
func Apply(ctx context.Context, st store.Store, workspaceID string, author types.Author) (int, error) {
	playbooks, err := Load()
	if err != nil {
		return 0, err
	}

	for _, pb := range playbooks {
		pb.WorkspaceID = workspaceID
		pb.Author = author

		if _, err := st.CreatePlaybook(ctx, pb); err != nil {
			return 0, fmt.Errorf("seeding playbook %q: %w", pb.Title, err)
		}
	}

	return len(playbooks), nil
}

// parsePlaybook extracts YAML frontmatter and markdown body.
func parsePlaybook(data []byte) (types.Playbook, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return types.Playbook{}, err
	}

	var header frontmatter
	if err := yaml.Unmarshal(fm, &header); err != nil {
		return types.Playbook{}, fmt.Errorf("unmarshaling frontmatter: %w", err)
	}

	if header.Title == "" {
		return types.Playbook{}, fmt.Errorf("seed playbook must have a title in frontmatter")
	}

	return types.Playbook{
		Title:       header.Title,
		Description: header.Description,
		Tags:        header.Tags,
		Triggers:    header.Triggers,
		ContentMD:   strings.TrimSpace(string(body)),
	}, nil
}

// splitFrontmatter separates YAML frontmatter from the markdown body.
// Frontmatter must be delimited by "---" at the start and end.
func splitFrontmatter(data []byte) (fm, body []byte, err error) {
	const delimiter = "---"

	data = bytes.TrimSpace(data)
	if !bytes.HasPrefix(data, []byte(delimiter)) {
		return nil, nil, fmt.Errorf("file must start with YAML frontmatter delimiter '---'")
	}

	data = data[len(delimiter):]

	idx := bytes.Index(data, []byte("\n"+delimiter))
	if idx == -1 {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter '---'")
	}

	fm = bytes.TrimSpace(data[:idx])
	body = bytes.TrimSpace(data[idx+len("\n"+delimiter):])

	return fm, body, nil
}
