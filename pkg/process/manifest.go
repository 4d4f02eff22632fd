package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cramakri/smet-collect-go/pkg/bundle"
)

// TaskDef describes one unit of external processing: an input path, an
// output location, and the slug of the race it belongs to.
type TaskDef struct {
	RaceSlug  string `json:"raceslug"`
	InPath    string `json:"inpath"`
	OutFolder string `json:"outfolder"`
	OutName   string `json:"outname"`
}

type manifestCandidate struct {
	Name  string   `json:"name"`
	Terms []string `json:"terms"`
}

type manifestRace struct {
	Slug       string              `json:"slug"`
	Candidates []manifestCandidate `json:"candidates"`
}

type manifestBody struct {
	Tasks []TaskDef      `json:"tasks"`
	Races []manifestRace `json:"races"`
}

// Manifest is the single file handed to an external command describing a
// whole batch: the tasks to perform plus the race/candidate/term
// configuration the command may need to interpret them.
type Manifest struct {
	status *bundle.Status
	slug   string
	tasks  []TaskDef

	// BatchID distinguishes manifests written in the same instant.
	BatchID string
}

// NewManifest creates a manifest for a batch of tasks. slug identifies the
// kind of command the batch runs.
func NewManifest(status *bundle.Status, slug string, tasks []TaskDef) *Manifest {
	return &Manifest{
		status:  status,
		slug:    slug,
		tasks:   tasks,
		BatchID: uuid.NewString()[:8],
	}
}

// DefaultPath places the manifest in the bundle's tmp folder.
func (m *Manifest) DefaultPath() string {
	name := fmt.Sprintf("%s-%s.json", m.slug, m.BatchID)
	return filepath.Join(m.status.TmpFolder(), name)
}

// Save writes the manifest as JSON. An empty path means DefaultPath.
func (m *Manifest) Save(path string) (string, error) {
	if path == "" {
		path = m.DefaultPath()
	}

	races, err := m.configRaces()
	if err != nil {
		return "", err
	}
	body := manifestBody{Tasks: m.tasks, Races: races}
	if body.Tasks == nil {
		body.Tasks = []TaskDef{}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write manifest %s: %w", path, err)
	}
	return path, nil
}

// configRaces renders the bundle's race/candidate/term configuration into
// the manifest shape.
func (m *Manifest) configRaces() ([]manifestRace, error) {
	return configRaces(m.status)
}

func configRaces(status *bundle.Status) ([]manifestRace, error) {
	races, err := status.Races()
	if err != nil {
		return nil, err
	}
	out := make([]manifestRace, 0, len(races))
	for _, race := range races {
		mr := manifestRace{Slug: race.Slug, Candidates: []manifestCandidate{}}
		candidates, err := status.Candidates(race)
		if err != nil {
			return nil, err
		}
		for _, candidate := range candidates {
			terms, err := status.SearchTerms(candidate)
			if err != nil {
				return nil, err
			}
			mc := manifestCandidate{Name: candidate.Name, Terms: []string{}}
			for _, term := range terms {
				mc.Terms = append(mc.Terms, term.Term)
			}
			mr.Candidates = append(mr.Candidates, mc)
		}
		out = append(out, mr)
	}
	return out, nil
}
