package patterns

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	lexerrors "github.com/casemark/lexext-cli/pkg/errors"
	"github.com/casemark/lexext-cli/pkg/logging"
)

// aliasFileName is the entity-type alias map, looked up at the pattern root.
const aliasFileName = "entity_aliases.yaml"

// relationshipsDir is the subdirectory holding relationship pattern files.
const relationshipsDir = "relationships"

// loadParallelism bounds concurrent file parsing during LoadAll/Reload.
const loadParallelism = 8

// Store owns the canonical set of Patterns, PatternGroups and relationship
// patterns. All read methods are safe for concurrent use; loads and reloads
// swap immutable index snapshots under a writer lock.
type Store struct {
	root   string
	logger logging.Logger

	mu       sync.RWMutex
	snapshot *indexes
	aliases  *AliasMap

	// fileHashes keys reloads: path -> content hash of the last good load.
	fileHashes map[string]string

	loadErrors []LoadError
	errorCount int
}

// indexes is an immutable view of the loaded library. A load builds a fresh
// value and swaps it in whole, so readers never observe partial state.
type indexes struct {
	groups        map[string]*PatternGroup
	byFullName    map[string]*Pattern
	byEntityType  map[EntityType][]*Pattern
	byDeclared    map[string][]*Pattern
	examples      map[EntityType][]string
	relationships map[string][]*RelationshipPattern
}

func newIndexes() *indexes {
	return &indexes{
		groups:        make(map[string]*PatternGroup),
		byFullName:    make(map[string]*Pattern),
		byEntityType:  make(map[EntityType][]*Pattern),
		byDeclared:    make(map[string][]*Pattern),
		examples:      make(map[EntityType][]string),
		relationships: make(map[string][]*RelationshipPattern),
	}
}

// NewStore creates a Store rooted at dir. Call LoadAll before reading.
func NewStore(dir string, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{
		root:       dir,
		logger:     logger,
		snapshot:   newIndexes(),
		aliases:    NewAliasMap(nil),
		fileHashes: make(map[string]string),
	}
}

// LoadAll enumerates all pattern files under the root, parses and compiles
// them in parallel, and swaps in fresh indexes. A malformed file is skipped
// and recorded; a missing root directory is a warning, not fatal.
func (s *Store) LoadAll() error {
	return s.load(false)
}

// Reload reloads only files whose content hash changed since the last load.
// Unchanged groups remain live and are not rebuilt.
func (s *Store) Reload() error {
	return s.load(true)
}

type parsedFile struct {
	path     string
	hash     string
	group    *PatternGroup
	rels     []*RelationshipPattern
	category string
	errs     []LoadError
}

func (s *Store) load(incremental bool) error {
	files, err := s.enumerate()
	if err != nil {
		return err
	}

	aliases := s.loadAliases()

	s.mu.RLock()
	prevHashes := make(map[string]string, len(s.fileHashes))
	for k, v := range s.fileHashes {
		prevHashes[k] = v
	}
	prev := s.snapshot
	s.mu.RUnlock()

	var (
		resultMu sync.Mutex
		results  []parsedFile
	)

	g := new(errgroup.Group)
	g.SetLimit(loadParallelism)
	for _, path := range files {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				resultMu.Lock()
				results = append(results, parsedFile{path: path, errs: []LoadError{{File: path, Err: err}}})
				resultMu.Unlock()
				return nil
			}
			sum := sha256.Sum256(data)
			hash := hex.EncodeToString(sum[:])

			if incremental && prevHashes[path] == hash {
				return nil
			}

			pf := s.parseFile(path, hash, data, aliases)
			resultMu.Lock()
			results = append(results, pf)
			resultMu.Unlock()
			return nil
		})
	}
	// Workers never return errors; failures are recorded per file.
	_ = g.Wait()

	// Serialised index build and swap.
	s.mu.Lock()
	defer s.mu.Unlock()

	next := newIndexes()
	hashes := make(map[string]string)
	var loadErrs []LoadError

	if incremental {
		// Carry forward groups from unchanged files.
		changed := make(map[string]bool, len(results))
		for _, r := range results {
			changed[r.path] = true
		}
		live := make(map[string]bool, len(files))
		for _, f := range files {
			live[f] = true
		}
		for _, grp := range prev.groups {
			if live[grp.SourceFile] && !changed[grp.SourceFile] {
				next.groups[grp.Name] = grp
				hashes[grp.SourceFile] = grp.ContentHash
			}
		}
		for cat, rels := range prev.relationships {
			if len(rels) > 0 && live[rels[0].sourceFile()] && !changed[rels[0].sourceFile()] {
				next.relationships[cat] = rels
				hashes[rels[0].sourceFile()] = prevHashes[rels[0].sourceFile()]
			}
		}
	}

	for _, r := range results {
		if len(r.errs) > 0 {
			loadErrs = append(loadErrs, r.errs...)
		}
		if r.group == nil && len(r.rels) == 0 {
			// Failed parse: keep the prior group or relationship category
			// for this file, if any.
			if prevHash, ok := prevHashes[r.path]; ok {
				for _, grp := range prev.groups {
					if grp.SourceFile == r.path {
						next.groups[grp.Name] = grp
						hashes[r.path] = prevHash
					}
				}
				for cat, rels := range prev.relationships {
					if len(rels) > 0 && rels[0].sourceFile() == r.path {
						next.relationships[cat] = rels
						hashes[r.path] = prevHash
					}
				}
			}
			continue
		}
		if r.group != nil {
			next.groups[r.group.Name] = r.group
		}
		if len(r.rels) > 0 {
			next.relationships[r.category] = r.rels
		}
		hashes[r.path] = r.hash
	}

	rebuildDerivedIndexes(next)

	s.snapshot = next
	s.aliases = aliases
	s.fileHashes = hashes
	s.loadErrors = loadErrs
	s.errorCount += len(loadErrs)

	s.logger.Info("pattern library loaded",
		logging.F("groups", len(next.groups)),
		logging.F("patterns", len(next.byFullName)),
		logging.F("relationship_categories", len(next.relationships)),
		logging.F("errors", len(loadErrs)),
	)
	return nil
}

// rebuildDerivedIndexes populates the by-name, by-type and example indexes
// from the group set.
func rebuildDerivedIndexes(ix *indexes) {
	for _, grp := range ix.groups {
		for _, p := range grp.Patterns {
			ix.byFullName[p.FullName()] = p
			ix.byEntityType[p.EntityType] = append(ix.byEntityType[p.EntityType], p)
			if decl := normaliseTypeName(p.DeclaredType); decl != "" {
				ix.byDeclared[decl] = append(ix.byDeclared[decl], p)
			}
			if len(p.Examples) > 0 {
				ix.examples[p.EntityType] = append(ix.examples[p.EntityType], p.Examples...)
			}
		}
	}
	for t := range ix.byEntityType {
		sort.Slice(ix.byEntityType[t], func(i, j int) bool {
			return ix.byEntityType[t][i].FullName() < ix.byEntityType[t][j].FullName()
		})
	}
}

// enumerate returns all candidate pattern files under the root.
func (s *Store) enumerate() ([]string, error) {
	info, err := os.Stat(s.root)
	if os.IsNotExist(err) {
		s.logger.Warn("pattern root does not exist", logging.F("root", s.root))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat pattern root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("pattern root %s: %w", s.root, lexerrors.ErrValidation)
	}

	var files []string
	err = filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filepath.Base(path) == aliasFileName {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking pattern root: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// loadAliases reads the alias file if present and merges it over the builtin
// alias table.
func (s *Store) loadAliases() *AliasMap {
	path := filepath.Join(s.root, aliasFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return NewAliasMap(nil)
	}
	raw := make(map[string]string)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("alias file unparsable, using builtin aliases",
			logging.F("file", path), logging.Err(err))
		return NewAliasMap(nil)
	}
	extra := make(map[string]EntityType, len(raw))
	for k, v := range raw {
		extra[k] = EntityType(strings.ToUpper(normaliseTypeName(v)))
	}
	return NewAliasMap(extra)
}

// parseFile parses one pattern or relationship file. The returned parsedFile
// carries either a group, a relationship category, or only errors; a file is
// never partially applied.
func (s *Store) parseFile(path, hash string, data []byte, aliases *AliasMap) parsedFile {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = path
	}
	if strings.HasPrefix(rel, relationshipsDir+string(filepath.Separator)) {
		return s.parseRelationshipFile(path, hash, data, aliases)
	}
	return s.parseEntityFile(path, hash, data, aliases)
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (s *Store) parseEntityFile(path, hash string, data []byte, aliases *AliasMap) parsedFile {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return parsedFile{path: path, errs: []LoadError{{File: path, Err: err}}}
	}

	groupName := fileStem(path)
	group := &PatternGroup{
		Name:        groupName,
		SourceFile:  path,
		ContentHash: hash,
		LoadedAt:    time.Now(),
	}
	var errs []LoadError

	// Records collected from both the flat form and the sectioned form,
	// normalised to one representation before validation.
	var records []patternRecord

	for key, node := range raw {
		switch key {
		case "metadata":
			if err := node.Decode(&group.Metadata); err != nil {
				return parsedFile{path: path, errs: []LoadError{{File: path, Err: fmt.Errorf("metadata: %w", err)}}}
			}
		case "entity_types":
			// Accepted as list or map; declared names are validated against
			// the alias map below via each pattern's own declaration.
			var listForm []entityTypeDecl
			var mapForm map[string]entityTypeDecl
			if err := node.Decode(&listForm); err != nil {
				if err := node.Decode(&mapForm); err != nil {
					errs = append(errs, LoadError{File: path, Err: fmt.Errorf("entity_types: %w", err)})
				}
			}
		case "patterns":
			var flat []patternRecord
			if err := node.Decode(&flat); err != nil {
				return parsedFile{path: path, errs: []LoadError{{File: path, Err: fmt.Errorf("patterns: %w", err)}}}
			}
			records = append(records, flat...)
		default:
			// Sectioned form: a top-level key holding name -> record.
			var section map[string]patternRecord
			if err := node.Decode(&section); err != nil {
				errs = append(errs, LoadError{File: path, Err: fmt.Errorf("section %q: %w", key, err)})
				continue
			}
			names := make([]string, 0, len(section))
			for name := range section {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				rec := section[name]
				rec.Name = name
				records = append(records, rec)
			}
		}
	}

	if group.Metadata.PatternVersion == "" {
		return parsedFile{path: path, errs: append(errs,
			LoadError{File: path, Err: fmt.Errorf("missing required metadata.pattern_version: %w", lexerrors.ErrValidation)})}
	}

	for _, rec := range records {
		p, err := compilePattern(groupName, rec, aliases)
		if err != nil {
			// A pattern that fails to compile or validate is skipped, not coerced.
			errs = append(errs, LoadError{File: path, Pattern: rec.Name, Err: err})
			continue
		}
		group.Patterns = append(group.Patterns, p)
	}

	if len(group.Patterns) == 0 && len(records) > 0 {
		// Every pattern failed: treat the whole file as failed so the prior
		// group stays live.
		return parsedFile{path: path, errs: errs}
	}

	return parsedFile{path: path, hash: hash, group: group, errs: errs}
}

// compilePattern validates and compiles one normalised record.
func compilePattern(groupName string, rec patternRecord, aliases *AliasMap) (*Pattern, error) {
	if rec.Name == "" {
		return nil, fmt.Errorf("pattern has no name: %w", lexerrors.ErrValidation)
	}
	if rec.MatchExpression == "" {
		return nil, fmt.Errorf("missing match_expression: %w", lexerrors.ErrValidation)
	}
	expr, err := regexp.Compile(rec.MatchExpression)
	if err != nil {
		return nil, fmt.Errorf("match expression does not compile: %w", err)
	}
	if rec.Confidence == nil {
		return nil, fmt.Errorf("missing confidence: %w", lexerrors.ErrValidation)
	}
	if *rec.Confidence < 0 || *rec.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v outside [0,1]: %w", *rec.Confidence, lexerrors.ErrValidation)
	}
	for _, ex := range rec.Examples {
		if strings.TrimSpace(ex) == "" {
			return nil, fmt.Errorf("empty example string: %w", lexerrors.ErrValidation)
		}
	}

	declared := ""
	if len(rec.EntityTypes) > 0 {
		declared = rec.EntityTypes[0]
	}

	p := &Pattern{
		GroupName:    groupName,
		Name:         rec.Name,
		Expr:         expr,
		Confidence:   *rec.Confidence,
		DeclaredType: declared,
		Examples:     rec.Examples,
		Components:   rec.Components,
		Validation:   rec.Validation,
		Dependencies: rec.Dependencies,
	}

	if ct, ok := CitationTypeFor(declared); ok {
		p.CitationType = ct
		p.EntityType = EntityLegalConcept
		return p, nil
	}

	canonical, resolved := aliases.Canonical(declared)
	if declared == "" {
		return nil, fmt.Errorf("missing entity type declaration: %w", lexerrors.ErrValidation)
	}
	if !resolved {
		return nil, fmt.Errorf("entity type %q not resolvable: %w", declared, lexerrors.ErrValidation)
	}
	p.EntityType = canonical
	return p, nil
}

func (s *Store) parseRelationshipFile(path, hash string, data []byte, aliases *AliasMap) parsedFile {
	var file struct {
		Patterns []relationshipRecord `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return parsedFile{path: path, errs: []LoadError{{File: path, Err: err}}}
	}

	category := fileStem(path)
	var (
		rels []*RelationshipPattern
		errs []LoadError
	)
	for _, rec := range file.Patterns {
		if rec.RelationshipType == "" {
			errs = append(errs, LoadError{File: path, Err: fmt.Errorf("relationship missing relationship_type: %w", lexerrors.ErrValidation)})
			continue
		}
		src, srcOK := aliases.Canonical(rec.SourceEntity)
		dst, dstOK := aliases.Canonical(rec.TargetEntity)
		if !srcOK || !dstOK {
			errs = append(errs, LoadError{File: path, Pattern: rec.RelationshipType,
				Err: fmt.Errorf("unresolvable endpoint types %q/%q: %w", rec.SourceEntity, rec.TargetEntity, lexerrors.ErrValidation)})
			continue
		}
		conf := 0.75
		if rec.Confidence != nil {
			conf = *rec.Confidence
		}
		if conf < 0 || conf > 1 {
			errs = append(errs, LoadError{File: path, Pattern: rec.RelationshipType,
				Err: fmt.Errorf("confidence %v outside [0,1]: %w", conf, lexerrors.ErrValidation)})
			continue
		}
		rels = append(rels, &RelationshipPattern{
			RelationshipType: rec.RelationshipType,
			SourceEntityType: src,
			TargetEntityType: dst,
			Indicators:       rec.Indicators,
			Examples:         rec.Examples,
			Bidirectional:    rec.Bidirectional,
			Category:         category,
			Confidence:       conf,
			Description:      rec.Description,
			Jurisdiction:     rec.Jurisdiction,
			file:             path,
		})
	}

	if len(rels) == 0 {
		return parsedFile{path: path, errs: errs}
	}
	return parsedFile{path: path, hash: hash, rels: rels, category: category, errs: errs}
}

// --- read methods -----------------------------------------------------------

// GetPattern returns the pattern with the given "group.pattern" full name.
func (s *Store) GetPattern(fullName string) (*Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.snapshot.byFullName[fullName]
	return p, ok
}

// GetPatternsByEntityType returns patterns declaring the given type. The
// name may be canonical or an alias; both forms are indexed.
func (s *Store) GetPatternsByEntityType(name string) []*Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if canonical, ok := s.aliases.Canonical(name); ok {
		if ps := s.snapshot.byEntityType[canonical]; len(ps) > 0 {
			return append([]*Pattern(nil), ps...)
		}
	}
	if ps := s.snapshot.byDeclared[normaliseTypeName(name)]; len(ps) > 0 {
		return append([]*Pattern(nil), ps...)
	}
	return nil
}

// GetPatternsByConfidence returns all patterns with base confidence >= min.
func (s *Store) GetPatternsByConfidence(min float64) []*Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Pattern
	for _, p := range s.snapshot.byFullName {
		if p.Confidence >= min {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName() < out[j].FullName() })
	return out
}

// GetGroup returns the pattern group with the given name.
func (s *Store) GetGroup(name string) (*PatternGroup, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.snapshot.groups[name]
	return g, ok
}

// Groups returns all loaded group names, sorted.
func (s *Store) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.snapshot.groups))
	for name := range s.snapshot.groups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EntityTypes returns the canonical entity types that have at least one
// loaded pattern, sorted.
func (s *Store) EntityTypes() []EntityType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EntityType, 0, len(s.snapshot.byEntityType))
	for t := range s.snapshot.byEntityType {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EntityTypesWithExamples returns loaded entity types that carry at least
// one aggregated example string.
func (s *Store) EntityTypesWithExamples() []EntityType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EntityType, 0, len(s.snapshot.examples))
	for t := range s.snapshot.examples {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AggregatedExamples returns the example strings aggregated across all
// patterns declaring the given canonical type.
func (s *Store) AggregatedExamples(t EntityType) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.snapshot.examples[t]...)
}

// RelationshipPatterns returns all relationship patterns keyed by category.
func (s *Store) RelationshipPatterns() map[string][]*RelationshipPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]*RelationshipPattern, len(s.snapshot.relationships))
	for cat, rels := range s.snapshot.relationships {
		out[cat] = append([]*RelationshipPattern(nil), rels...)
	}
	return out
}

// RelationshipCategories returns all loaded relationship categories, sorted.
func (s *Store) RelationshipCategories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.snapshot.relationships))
	for cat := range s.snapshot.relationships {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// RelationshipTypes returns all loaded relationship type names, sorted and
// de-duplicated across categories.
func (s *Store) RelationshipTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, rels := range s.snapshot.relationships {
		for _, r := range rels {
			seen[r.RelationshipType] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ValidateDependencies returns, for each pattern declaring dependencies,
// the full names it references that are not loaded.
func (s *Store) ValidateDependencies() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	missing := make(map[string][]string)
	for name, p := range s.snapshot.byFullName {
		for _, dep := range p.Dependencies {
			if _, ok := s.snapshot.byFullName[dep]; !ok {
				missing[name] = append(missing[name], dep)
			}
		}
	}
	for name := range missing {
		sort.Strings(missing[name])
	}
	return missing
}

// LoadErrors returns the errors recorded by the most recent load.
func (s *Store) LoadErrors() []LoadError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LoadError(nil), s.loadErrors...)
}

// ErrorCount returns the cumulative count of load errors across all loads.
func (s *Store) ErrorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorCount
}

// PatternCount returns the number of loaded patterns.
func (s *Store) PatternCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshot.byFullName)
}

// Aliases returns the alias map in effect since the last load.
func (s *Store) Aliases() *AliasMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aliases
}
