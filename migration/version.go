package migration

import (
	"github.com/pkg/errors"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MaxVersionWidth is the number of decimal digits of a millisecond epoch
// timestamp and the widest version token accepted by ParseVersion
const MaxVersionWidth = 13

var versionRegexp = regexp.MustCompile(`^[0-9]{1,13}$`)

type (
	// Version - identifies one migration pair, derived from the
	// millisecond epoch time of its generation
	Version int64

	ClockFunc func() time.Time
)

func (v Version) String() string {
	return strconv.FormatInt(int64(v), 10)
}

// ParseVersion validates a textual version token
func ParseVersion(s string) (Version, error) {
	if !versionRegexp.MatchString(s) {
		return 0, errors.Wrapf(ErrMalformedVersion, "[%s]", s)
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedVersion, "[%s]: %s", s, err.Error())
	}

	return Version(n), nil
}

// Generator hands out strictly increasing versions. When the clock has not
// moved past the previously generated value, the previous value is incremented.
type Generator struct {
	mu    sync.Mutex
	clock ClockFunc
	last  Version
}

func NewGenerator(clock ClockFunc) *Generator {
	if clock == nil {
		clock = time.Now
	}

	return &Generator{clock: clock}
}

func (g *Generator) Next() Version {
	g.mu.Lock()
	defer g.mu.Unlock()

	v := Version(g.clock().UnixMilli())
	if v <= g.last {
		v = g.last + 1
	}

	g.last = v

	return v
}

var defaultGenerator = NewGenerator(time.Now)

// DefaultGenerator is shared by everything generating versions in this process
func DefaultGenerator() *Generator {
	return defaultGenerator
}

// GenerateVersion returns a fresh version from the process wide generator
func GenerateVersion() Version {
	return defaultGenerator.Next()
}

// VersionSet - the set of versions present in the ledger
type VersionSet map[Version]struct{}

func NewVersionSet(versions ...Version) VersionSet {
	set := make(VersionSet, len(versions))
	for _, v := range versions {
		set[v] = struct{}{}
	}
	return set
}

func (s VersionSet) Has(v Version) bool {
	_, ok := s[v]
	return ok
}

func (s VersionSet) Add(v Version) {
	s[v] = struct{}{}
}

func (s VersionSet) Remove(v Version) {
	delete(s, v)
}

// Sorted returns the versions in ascending order
func (s VersionSet) Sorted() []Version {
	result := make([]Version, 0, len(s))
	for v := range s {
		result = append(result, v)
	}

	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })

	return result
}
