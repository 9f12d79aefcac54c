package core

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// TestCase is one named (input, expected output) pair. Iteration order is
// lexicographic by name; names starting with "sample" are public.
type TestCase struct {
	Name   string
	Input  *string
	Output string
}

// IsSample reports whether the case is shown in the public problem view.
func (tc TestCase) IsSample() bool {
	return strings.HasPrefix(tc.Name, "sample")
}

// Problem is the read-only judging definition of one task.
type Problem struct {
	ID               string
	Title            string
	Statement        string
	TimeLimitSec     int
	MemoryLimitMB    int
	AllowedLanguages []string
	TestCases        []TestCase // sorted by name

	Comparator             string
	ValidatorCode          string
	ValidatorLanguage      string
	ValidatorTimeLimitSec  int
	ValidatorMemoryLimitMB int

	GeneratorCode          string
	GeneratorLanguage      string
	GeneratorTimeLimitSec  int
	GeneratorMemoryLimitMB int

	SubmissionCooldownSec *int
	GeneratorCooldownSec  *int

	// JudgeAllTests keeps judging past the first failing case; the overall
	// verdict is still the first non-accepted result in case order.
	JudgeAllTests bool
}

// AllowsLanguage reports whether tag may be submitted for this problem.
func (p *Problem) AllowsLanguage(tag string) bool {
	for _, l := range p.AllowedLanguages {
		if strings.EqualFold(l, tag) {
			return true
		}
	}
	return false
}

// HasGenerator reports whether a sample generator ships with the problem.
func (p *Problem) HasGenerator() bool { return p.GeneratorCode != "" }

// Contest groups problems.
type Contest struct {
	ID          string
	Title       string
	Description string
	Problems    []*Problem // sorted by id
}

// problemDoc is the problem.yaml schema.
type problemDoc struct {
	Title  string `yaml:"title"`
	Limits struct {
		TimeSec  int `yaml:"time_sec"`
		MemoryMB int `yaml:"memory_mb"`
	} `yaml:"limits"`
	AllowedLanguages []string `yaml:"allowed_languages"`
	Comparator       string   `yaml:"comparator"`
	Validator        struct {
		File     string `yaml:"file"`
		Language string `yaml:"language"`
		TimeSec  int    `yaml:"time_sec"`
		MemoryMB int    `yaml:"memory_mb"`
	} `yaml:"validator"`
	Generator struct {
		File     string `yaml:"file"`
		Language string `yaml:"language"`
		TimeSec  int    `yaml:"time_sec"`
		MemoryMB int    `yaml:"memory_mb"`
	} `yaml:"generator"`
	Cooldowns struct {
		SubmissionSec *int `yaml:"submission_sec"`
		GeneratorSec  *int `yaml:"generator_sec"`
	} `yaml:"cooldowns"`
	JudgeAllTests bool `yaml:"judge_all_tests"`
}

type contestDoc struct {
	Title string `yaml:"title"`
}

type catalogueSnapshot struct {
	contests map[string]*Contest
	ordered  []*Contest
}

// Catalogue is the in-memory read-only view of all contests and problems.
// Reload builds a fresh snapshot and swaps it atomically; concurrent
// readers see either the old or the new snapshot, never a partial one.
type Catalogue struct {
	dir  string
	snap atomic.Pointer[catalogueSnapshot]
}

// NewCatalogue loads the contest tree under dir. A missing directory is not
// an error: the catalogue starts empty and can be populated by a reload.
func NewCatalogue(dir string) (*Catalogue, error) {
	c := &Catalogue{dir: dir}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload atomically replaces the snapshot with a fresh load from disk.
func (c *Catalogue) Reload() error {
	snap, err := loadSnapshot(c.dir)
	if err != nil {
		return err
	}
	c.snap.Store(snap)
	return nil
}

// AllContests returns all contests sorted by id.
func (c *Catalogue) AllContests() []*Contest {
	return c.snap.Load().ordered
}

// GetContest returns the contest or nil.
func (c *Catalogue) GetContest(id string) *Contest {
	return c.snap.Load().contests[id]
}

// GetProblem returns the problem or nil.
func (c *Catalogue) GetProblem(contestID, problemID string) *Problem {
	contest := c.GetContest(contestID)
	if contest == nil {
		return nil
	}
	for _, p := range contest.Problems {
		if p.ID == problemID {
			return p
		}
	}
	return nil
}

func loadSnapshot(dir string) (*catalogueSnapshot, error) {
	snap := &catalogueSnapshot{contests: map[string]*Contest{}}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("catalogue: contests directory %s not found, starting empty", dir)
			return snap, nil
		}
		return nil, fmt.Errorf("read contests dir: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		contest, err := loadContest(filepath.Join(dir, e.Name()), e.Name())
		if err != nil {
			return nil, fmt.Errorf("contest %s: %w", e.Name(), err)
		}
		snap.contests[contest.ID] = contest
		snap.ordered = append(snap.ordered, contest)
	}
	sort.Slice(snap.ordered, func(i, j int) bool { return snap.ordered[i].ID < snap.ordered[j].ID })
	return snap, nil
}

func loadContest(dir, id string) (*Contest, error) {
	contest := &Contest{ID: id, Title: id}

	if b, err := os.ReadFile(filepath.Join(dir, "contest.yaml")); err == nil {
		var doc contestDoc
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("contest.yaml: %w", err)
		}
		if strings.TrimSpace(doc.Title) != "" {
			contest.Title = doc.Title
		}
	}
	if b, err := os.ReadFile(filepath.Join(dir, "statement.md")); err == nil {
		contest.Description = string(b)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p, err := loadProblem(filepath.Join(dir, e.Name()), e.Name())
		if err != nil {
			return nil, fmt.Errorf("problem %s: %w", e.Name(), err)
		}
		if p != nil {
			contest.Problems = append(contest.Problems, p)
		}
	}
	sort.Slice(contest.Problems, func(i, j int) bool { return contest.Problems[i].ID < contest.Problems[j].ID })
	return contest, nil
}

// loadProblem parses one problem directory; directories without a
// problem.yaml are skipped so non-problem folders may live in the tree.
func loadProblem(dir, id string) (*Problem, error) {
	configBytes, err := os.ReadFile(filepath.Join(dir, "problem.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var doc problemDoc
	if err := yaml.Unmarshal(configBytes, &doc); err != nil {
		return nil, fmt.Errorf("problem.yaml: %w", err)
	}
	if strings.TrimSpace(doc.Title) == "" {
		doc.Title = id
	}
	if doc.Limits.TimeSec <= 0 {
		doc.Limits.TimeSec = 2
	}
	if doc.Limits.MemoryMB <= 0 {
		doc.Limits.MemoryMB = 64
	}
	if len(doc.AllowedLanguages) == 0 {
		doc.AllowedLanguages = []string{"python", "c", "c++"}
	}
	if doc.Comparator == "" {
		doc.Comparator = ComparatorDiff
	}
	if doc.Comparator != ComparatorDiff && doc.Comparator != ComparatorCustom {
		return nil, fmt.Errorf("unknown comparator %q", doc.Comparator)
	}

	p := &Problem{
		ID:                    id,
		Title:                 doc.Title,
		TimeLimitSec:          doc.Limits.TimeSec,
		MemoryLimitMB:         doc.Limits.MemoryMB,
		AllowedLanguages:      doc.AllowedLanguages,
		Comparator:            doc.Comparator,
		SubmissionCooldownSec: doc.Cooldowns.SubmissionSec,
		GeneratorCooldownSec:  doc.Cooldowns.GeneratorSec,
		JudgeAllTests:         doc.JudgeAllTests,
	}

	if b, err := os.ReadFile(filepath.Join(dir, "statement.md")); err == nil {
		p.Statement = string(b)
	}

	if doc.Comparator == ComparatorCustom {
		file := firstNonEmpty(doc.Validator.File, "validator.py")
		b, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			return nil, fmt.Errorf("validator source %s: %w", file, err)
		}
		p.ValidatorCode = string(b)
		p.ValidatorLanguage = firstNonEmpty(doc.Validator.Language, "python")
		p.ValidatorTimeLimitSec = doc.Validator.TimeSec
		if p.ValidatorTimeLimitSec <= 0 {
			p.ValidatorTimeLimitSec = 10
		}
		p.ValidatorMemoryLimitMB = doc.Validator.MemoryMB
		if p.ValidatorMemoryLimitMB <= 0 {
			p.ValidatorMemoryLimitMB = 256
		}
	}

	genFile := firstNonEmpty(doc.Generator.File, "generator.py")
	if b, err := os.ReadFile(filepath.Join(dir, genFile)); err == nil {
		p.GeneratorCode = string(b)
		p.GeneratorLanguage = firstNonEmpty(doc.Generator.Language, "python")
		p.GeneratorTimeLimitSec = doc.Generator.TimeSec
		if p.GeneratorTimeLimitSec <= 0 {
			p.GeneratorTimeLimitSec = 5
		}
		p.GeneratorMemoryLimitMB = doc.Generator.MemoryMB
		if p.GeneratorMemoryLimitMB <= 0 {
			p.GeneratorMemoryLimitMB = 256
		}
	} else if doc.Generator.File != "" {
		return nil, fmt.Errorf("generator source %s: %w", genFile, err)
	}

	cases, err := loadTestCases(filepath.Join(dir, "testcases"))
	if err != nil {
		return nil, err
	}
	p.TestCases = cases
	return p, nil
}

func loadTestCases(dir string) ([]TestCase, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var cases []TestCase
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".in")
		if !ok {
			continue
		}
		tc := TestCase{Name: name}
		if b, err := os.ReadFile(filepath.Join(dir, e.Name())); err == nil {
			s := string(b)
			tc.Input = &s
		}
		if b, err := os.ReadFile(filepath.Join(dir, name+".out")); err == nil {
			tc.Output = string(b)
		}
		cases = append(cases, tc)
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].Name < cases[j].Name })
	return cases, nil
}
