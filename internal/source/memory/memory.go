// Package memory is an in-process expense store. It backs the "memory"
// data backend and stands in for the REST API in tests.
package memory

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"expensewatch/internal/core"
)

var (
	ErrUnknownCategory = errors.New("category does not exist")
	ErrNotFound        = errors.New("expense not found")
	ErrBadSeed         = errors.New("malformed seed line")
)

type Store struct {
	mu     sync.Mutex
	cats   []core.Category
	items  []core.ExpenseRecord
	nextID int

	// seedMu serialises Refresh; seeded counts the expense lines consumed.
	seedMu   sync.Mutex
	seedPath string
	seedLoc  *time.Location
	seeded   int
}

func New(categories []string) *Store {
	names := dedupe(categories)
	cats := make([]core.Category, len(names))
	for i, name := range names {
		cats[i] = core.Category{ID: strconv.Itoa(i + 1), Name: name}
	}
	return &Store{cats: cats, nextID: 1}
}

// NewFromFiles seeds a store from base. seed_categories.txt lists one
// category per line (Food, Transport and Utilities when missing) and
// seed_expenses.txt holds one expense per line as
// amount;description;category[;date]. Zoneless dates are read in loc.
// Missing files are not an error; malformed expense lines are.
//
// Lines appended to seed_expenses.txt later are picked up by Refresh,
// which ListExpenses calls, so the file works as a live feed.
func NewFromFiles(base string, loc *time.Location) (*Store, error) {
	cats := readLines(filepath.Join(base, "seed_categories.txt"))
	if len(cats) == 0 {
		cats = []string{"Food", "Transport", "Utilities"}
	}
	s := New(cats)
	s.seedPath = filepath.Join(base, "seed_expenses.txt")
	s.seedLoc = loc
	if _, err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh adds the seed file lines not read yet and returns how many were
// stored. A malformed line is skipped and reported; lines after it are
// still read on the next call.
func (s *Store) Refresh() (int, error) {
	if s.seedPath == "" {
		return 0, nil
	}
	s.seedMu.Lock()
	defer s.seedMu.Unlock()

	lines := readRawLines(s.seedPath)
	added := 0
	for s.seeded < len(lines) {
		n := s.seeded + 1
		in, err := parseExpenseLine(lines[s.seeded], s.seedLoc)
		s.seeded = n
		if err == nil {
			_, err = s.Add(in, time.Time{})
		}
		if err != nil {
			return added, fmt.Errorf("seed_expenses.txt entry %d: %w", n, err)
		}
		added++
	}
	return added, nil
}

func parseExpenseLine(line string, loc *time.Location) (core.ExpenseInput, error) {
	parts := strings.Split(line, ";")
	if len(parts) < 3 || len(parts) > 4 {
		return core.ExpenseInput{}, fmt.Errorf("%w: want amount;description;category[;date], got %q", ErrBadSeed, line)
	}
	in := core.ExpenseInput{
		Amount:      core.ParseAmount(parts[0]),
		Description: strings.TrimSpace(parts[1]),
		Category:    strings.TrimSpace(parts[2]),
	}
	if len(parts) == 4 && strings.TrimSpace(parts[3]) != "" {
		at, ok := core.ParseTimestamp(parts[3], loc)
		if !ok {
			return core.ExpenseInput{}, fmt.Errorf("%w: bad date %q", ErrBadSeed, strings.TrimSpace(parts[3]))
		}
		in.Date = &at
	}
	return in, nil
}

// Add stores an expense dated at and returns the stored record. The
// category is looked up by name, as the REST backend does.
func (s *Store) Add(in core.ExpenseInput, at time.Time) (core.ExpenseRecord, error) {
	if err := in.Validate(); err != nil {
		return core.ExpenseRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, ok := s.categoryByName(strings.TrimSpace(in.Category))
	if !ok {
		return core.ExpenseRecord{}, fmt.Errorf("%w: %s", ErrUnknownCategory, in.Category)
	}
	if in.Date != nil && !in.Date.IsZero() {
		at = *in.Date
	}
	rec := core.ExpenseRecord{
		ID:           strconv.Itoa(s.nextID),
		Amount:       in.Amount,
		Description:  strings.TrimSpace(in.Description),
		CategoryID:   cat.ID,
		CategoryName: cat.Name,
	}
	if !at.IsZero() {
		rec.OccurredAt = &at
	}
	s.nextID++
	s.items = append(s.items, rec)
	return rec, nil
}

// Delete removes the expense with the given id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.items {
		if r.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ListExpenses reads new seed lines, then returns the stored expenses
// matching f, oldest first.
func (s *Store) ListExpenses(ctx context.Context, f core.Filter) ([]core.ExpenseRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.Refresh(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ExpenseRecord, 0, len(s.items))
	for _, r := range s.items {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListCategories returns the seeded categories.
func (s *Store) ListCategories(_ context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Category(nil), s.cats...), nil
}

// Len returns how many expenses are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) categoryByName(name string) (core.Category, bool) {
	for _, c := range s.cats {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return core.Category{}, false
}

func readLines(path string) []string {
	return dedupe(readRawLines(path))
}

// readRawLines returns the trimmed lines of path, skipping blanks and
// # comments. A missing file yields nothing.
func readRawLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// dedupe drops blanks and repeats, keeping first-seen order.
func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
