package preset

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/cory-johannsen/fortune/internal/wheel"
)

// DefaultTolerance is the largest acceptable |empirical - theoretical| win
// rate difference for a scenario that does not set one.
const DefaultTolerance = 0.03

// Scenario describes one fairness simulation run.
type Scenario struct {
	Name         string              `toml:"name"`
	Iterations   int                 `toml:"iterations"`
	Seed         int64               `toml:"seed"`
	Tolerance    float64             `toml:"tolerance"`
	Participants []wheel.Participant `toml:"participants"`
}

// Pool returns the scenario's participants.
func (s Scenario) Pool() wheel.Pool {
	return wheel.Pool(s.Participants).Clone()
}

// Source returns the scenario's random source: seeded when Seed is set,
// crypto/rand otherwise.
func (s Scenario) Source() wheel.Source {
	if s.Seed != 0 {
		return wheel.NewSeededSource(uint64(s.Seed))
	}
	return wheel.NewCryptoSource()
}

// Validate checks the scenario's invariants. All-zero pools are accepted
// because dropout treats them as equally weighted.
func (s Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario: name must not be empty")
	}
	if s.Iterations <= 0 {
		return fmt.Errorf("scenario %q: iterations must be > 0", s.Name)
	}
	if s.Tolerance < 0 || s.Tolerance >= 1 {
		return fmt.Errorf("scenario %q: tolerance must be in [0, 1)", s.Name)
	}
	if len(s.Participants) == 0 {
		return fmt.Errorf("scenario %q: participants must not be empty", s.Name)
	}
	seen := make(map[string]struct{}, len(s.Participants))
	for _, p := range s.Participants {
		if p.ID == "" {
			return fmt.Errorf("scenario %q: participant id must not be empty", s.Name)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("scenario %q: duplicate participant %q", s.Name, p.ID)
		}
		seen[p.ID] = struct{}{}
		if !(p.Weight >= 0) {
			return fmt.Errorf("scenario %q: participant %q weight must be >= 0", s.Name, p.ID)
		}
	}
	return nil
}

type scenarioFile struct {
	Scenarios []Scenario `toml:"scenario"`
}

// DecodeScenarios parses a TOML document of [[scenario]] tables.
//
// Postcondition: Every returned scenario is valid and has a tolerance; ids
// default to NameToID(name).
func DecodeScenarios(doc string) ([]Scenario, error) {
	var f scenarioFile
	if _, err := toml.Decode(doc, &f); err != nil {
		return nil, fmt.Errorf("parsing scenarios: %w", err)
	}
	if len(f.Scenarios) == 0 {
		return nil, fmt.Errorf("scenarios: no [[scenario]] tables")
	}
	for i := range f.Scenarios {
		s := &f.Scenarios[i]
		if s.Tolerance == 0 {
			s.Tolerance = DefaultTolerance
		}
		for j := range s.Participants {
			if s.Participants[j].ID == "" {
				s.Participants[j].ID = NameToID(s.Participants[j].Name)
			}
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Scenarios, nil
}

// LoadScenarios reads and decodes a scenario file.
func LoadScenarios(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenarios %q: %w", path, err)
	}
	scenarios, err := DecodeScenarios(string(data))
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	return scenarios, nil
}
