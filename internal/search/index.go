// Package search keeps an in-memory index of the markdown documents in every
// volume for full-text and tag queries.
package search

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/quill/internal/constants"
	"github.com/Paintersrp/quill/internal/parser"
	"github.com/Paintersrp/quill/internal/pathutil"
	"github.com/Paintersrp/quill/internal/volume"
)

const snippetWindow = 40

var (
	frontMatterRe = regexp.MustCompile(`(?s)\A---\r?\n(.*?)\r?\n---\r?\n?`)
	wikiLinkRe    = regexp.MustCompile(`\[\[(.+?)\]\]`)
	mdLinkRe      = regexp.MustCompile(`\[[^\]]+\]\(([^)\s]+)\)`)
)

type document struct {
	Path        string
	Title       string
	Tags        []string
	FrontMatter map[string][]string
	Links       []string
	Content     string
	BodyStart   int
	ModifiedAt  time.Time
}

// Index stores searchable representations of documents, keyed by volume
// path. It is safe for concurrent use.
type Index struct {
	vols   *volume.Set
	cfg    Config
	logger *slog.Logger

	mu   sync.RWMutex
	docs map[string]document
	// aliases maps lowercase identifiers (volume paths, relative paths,
	// basenames and stems) to the canonical volume path.
	aliases   map[string]string
	outbound  map[string][]string
	backlinks map[string][]string
}

func NewIndex(vols *volume.Set, cfg Config, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		vols:      vols,
		cfg:       cfg,
		logger:    logger,
		docs:      make(map[string]document),
		aliases:   make(map[string]string),
		outbound:  make(map[string][]string),
		backlinks: make(map[string][]string),
	}
}

// Build replaces the index contents with every markdown document found in
// the volumes. Missing mounts are skipped.
func (idx *Index) Build(ctx context.Context) error {
	docs := make(map[string]document)
	for _, v := range idx.vols.Volumes() {
		if err := idx.walk(ctx, v, v.MountPath, docs); err != nil {
			return err
		}
	}

	idx.mu.Lock()
	idx.docs = docs
	idx.refreshMetadata()
	idx.mu.Unlock()

	idx.logger.Debug("search index built", "documents", len(docs))
	return nil
}

// Refresh re-reads volumePath. A folder is re-read recursively, a path that
// no longer exists is dropped together with everything indexed under it.
func (idx *Index) Refresh(ctx context.Context, volumePath string) error {
	target, err := pathutil.ValidateVolumePath(idx.vols, volumePath)
	if err != nil {
		return err
	}
	canonical := idx.vols.Join(target.Volume, target.RelativePath)

	info, err := os.Stat(target.AbsPath)
	if errors.Is(err, fs.ErrNotExist) {
		idx.Forget(canonical)
		return nil
	}
	if err != nil {
		return fmt.Errorf("search: stat %s: %w", canonical, err)
	}

	fresh := make(map[string]document)
	if info.IsDir() {
		if err := idx.walk(ctx, target.Volume, target.AbsPath, fresh); err != nil {
			return err
		}
	} else if idx.indexable(target.RelativePath) {
		doc, err := idx.loadDocument(canonical, target.AbsPath)
		if err != nil {
			return err
		}
		fresh[canonical] = doc
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.forgetLocked(canonical)
	for p, doc := range fresh {
		idx.docs[p] = doc
	}
	idx.refreshMetadata()
	return nil
}

// Forget drops volumePath and everything indexed under it.
func (idx *Index) Forget(volumePath string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.forgetLocked(volumePath)
	idx.refreshMetadata()
}

func (idx *Index) forgetLocked(volumePath string) {
	prefix := strings.TrimSuffix(volumePath, "/") + "/"
	for p := range idx.docs {
		if p == volumePath || strings.HasPrefix(p, prefix) {
			delete(idx.docs, p)
		}
	}
}

// Len is the number of indexed documents.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

func (idx *Index) walk(ctx context.Context, v volume.Volume, root string, into map[string]document) error {
	err := filepath.WalkDir(root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			if abs == root && errors.Is(err, fs.ErrNotExist) {
				idx.logger.Warn("skipping missing volume", "volume", v.Name, "path", root)
				return filepath.SkipDir
			}
			if errors.Is(err, fs.ErrPermission) {
				return filepath.SkipDir
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := pathutil.Relative(v.MountPath, abs)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if abs != root && (strings.HasPrefix(d.Name(), ".") || idx.ignored(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !idx.indexable(rel) {
			return nil
		}

		canonical := idx.vols.Join(v, rel)
		doc, err := idx.loadDocument(canonical, abs)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		into[canonical] = doc
		return nil
	})
	if err != nil {
		return fmt.Errorf("search: indexing %s: %w", v.Name, err)
	}
	return nil
}

func (idx *Index) indexable(rel string) bool {
	if !strings.EqualFold(path.Ext(rel), constants.MarkdownExt) {
		return false
	}
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return false
		}
	}
	return !idx.ignored(rel)
}

func (idx *Index) ignored(rel string) bool {
	for _, segment := range strings.Split(rel, "/") {
		for _, ignored := range idx.cfg.IgnoredFolders {
			if ignored != "" && strings.EqualFold(segment, ignored) {
				return true
			}
		}
	}
	return false
}

func (idx *Index) loadDocument(canonical, abs string) (document, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return document{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return document{}, err
	}

	fm, bodyStart := splitFrontMatter(data)
	parsed, tags, err := parseFrontMatter(fm)
	if err != nil {
		// A broken header still leaves a searchable body.
		idx.logger.Warn("invalid front matter", "path", canonical, "err", err)
		parsed, tags, bodyStart = map[string][]string{}, nil, 0
	}

	return document{
		Path:        canonical,
		Title:       parser.Title(data),
		Tags:        tags,
		FrontMatter: parsed,
		Links:       extractLinks(data[bodyStart:]),
		Content:     string(data),
		BodyStart:   bodyStart,
		ModifiedAt:  info.ModTime().UTC(),
	}, nil
}

// Search evaluates q and returns matches sorted by path.
func (idx *Index) Search(q Query) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	term := strings.ToLower(strings.TrimSpace(q.Term))
	results := make([]Result, 0)
	for _, doc := range idx.docs {
		if !doc.matchesFilters(q) {
			continue
		}

		res := Result{Path: doc.Path, Title: doc.Title, ModifiedAt: doc.ModifiedAt}
		switch {
		case term == "":
			res.MatchFrom = "metadata"
		case strings.Contains(strings.ToLower(doc.Title), term):
			res.MatchFrom = "title"
		default:
			if snippet, ok := doc.matchFrontMatter(term); ok {
				res.MatchFrom, res.Snippet = "frontmatter", snippet
			} else if snippet, ok := doc.matchLinks(term); ok {
				res.MatchFrom, res.Snippet = "links", snippet
			} else if !idx.cfg.EnableBody {
				continue
			} else if snippet, line, ok := doc.matchBody(term); ok {
				res.MatchFrom, res.Snippet, res.Line = "body", snippet, line
			} else {
				continue
			}
		}
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results
}

// Related returns the link relationships of volumePath. Relative paths,
// basenames and stems are accepted when unambiguous enough to alias.
func (idx *Index) Related(volumePath string) Related {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	canonical := volumePath
	if _, ok := idx.docs[canonical]; !ok {
		if resolved := idx.resolveAlias(canonical); resolved != "" {
			canonical = resolved
		}
	}

	return Related{
		Outbound:  append([]string{}, idx.outbound[canonical]...),
		Backlinks: append([]string{}, idx.backlinks[canonical]...),
	}
}

// Tags returns every tag in use with the number of documents carrying it.
func (idx *Index) Tags() map[string]int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	counts := make(map[string]int)
	for _, doc := range idx.docs {
		for _, tag := range doc.Tags {
			counts[strings.ToLower(tag)]++
		}
	}
	return counts
}

func (idx *Index) refreshMetadata() {
	idx.aliases = idx.buildAliases()
	idx.computeRelationships()
}

func (idx *Index) computeRelationships() {
	outbound := make(map[string]map[string]struct{}, len(idx.docs))
	backlinks := make(map[string]map[string]struct{}, len(idx.docs))

	for p, doc := range idx.docs {
		for _, raw := range doc.Links {
			target := idx.resolveLink(p, raw)
			if target == "" || target == p {
				continue
			}

			if _, ok := outbound[p]; !ok {
				outbound[p] = make(map[string]struct{})
			}
			outbound[p][target] = struct{}{}

			if _, ok := backlinks[target]; !ok {
				backlinks[target] = make(map[string]struct{})
			}
			backlinks[target][p] = struct{}{}
		}
	}

	idx.outbound = make(map[string][]string, len(outbound))
	for p, targets := range outbound {
		idx.outbound[p] = setToSortedSlice(targets)
	}
	idx.backlinks = make(map[string][]string, len(backlinks))
	for p, sources := range backlinks {
		idx.backlinks[p] = setToSortedSlice(sources)
	}
}

func (idx *Index) buildAliases() map[string]string {
	aliases := make(map[string]string, len(idx.docs)*4)
	for p := range idx.docs {
		addAlias(aliases, p, p)
		if _, rel, ok := strings.Cut(p, "/"); ok {
			addAlias(aliases, rel, p)
		}
		addAlias(aliases, path.Base(p), p)
	}
	return aliases
}

func addAlias(aliases map[string]string, candidate, canonical string) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return
	}
	normalized := strings.ToLower(candidate)
	aliases[normalized] = canonical

	if ext := path.Ext(normalized); ext != "" {
		if stem := strings.TrimSuffix(normalized, ext); stem != "" {
			aliases[stem] = canonical
		}
	}
}

func (idx *Index) resolveAlias(name string) string {
	normalized := strings.ToLower(strings.Trim(name, "/"))
	if normalized == "" {
		return ""
	}
	if resolved, ok := idx.aliases[normalized]; ok {
		return resolved
	}
	if ext := path.Ext(normalized); ext != "" {
		if resolved, ok := idx.aliases[strings.TrimSuffix(normalized, ext)]; ok {
			return resolved
		}
	}
	return ""
}

// resolveLink maps a link found in source to an indexed volume path. Links
// relative to the source folder win over aliases.
func (idx *Index) resolveLink(source, link string) string {
	cleaned := strings.TrimSpace(strings.ReplaceAll(link, "\\", "/"))
	if hash := strings.Index(cleaned, "#"); hash >= 0 {
		cleaned = cleaned[:hash]
	}
	lowered := strings.ToLower(cleaned)
	if cleaned == "" || strings.Contains(lowered, "://") || strings.HasPrefix(lowered, "mailto:") {
		return ""
	}

	if !strings.HasPrefix(cleaned, "/") {
		relative := path.Join(path.Dir(source), cleaned)
		if _, ok := idx.docs[relative]; ok {
			return relative
		}
		if _, ok := idx.docs[relative+constants.MarkdownExt]; ok {
			return relative + constants.MarkdownExt
		}
	}
	return idx.resolveAlias(cleaned)
}

func (d document) matchesFilters(q Query) bool {
	if q.Volume != "" {
		head, _, _ := strings.Cut(d.Path, "/")
		if head != q.Volume {
			return false
		}
	}
	for _, required := range q.Tags {
		if !containsFold(d.Tags, required) {
			return false
		}
	}
	for key, values := range q.Metadata {
		available, ok := d.FrontMatter[key]
		if !ok {
			return false
		}
		for _, want := range values {
			if !containsFold(available, want) {
				return false
			}
		}
	}
	return true
}

func (d document) matchFrontMatter(term string) (string, bool) {
	keys := make([]string, 0, len(d.FrontMatter))
	for key := range d.FrontMatter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for _, value := range d.FrontMatter[key] {
			if strings.Contains(strings.ToLower(value), term) {
				return fmt.Sprintf("%s: %s", key, value), true
			}
		}
	}
	return "", false
}

func (d document) matchLinks(term string) (string, bool) {
	for _, link := range d.Links {
		if strings.Contains(strings.ToLower(link), term) {
			return "link: " + link, true
		}
	}
	return "", false
}

// matchBody finds term in the body and returns a snippet around it with the
// 1-based line of the match in the full document.
func (d document) matchBody(term string) (string, int, bool) {
	body := d.Content[d.BodyStart:]
	at := indexFold(body, term)
	if at == -1 {
		return "", 0, false
	}

	runeStart := utf8.RuneCountInString(body[:at])
	snippet := bodySnippet(body, runeStart, utf8.RuneCountInString(term))
	return snippet, parser.LineOf([]byte(d.Content), d.BodyStart+at), true
}

// indexFold is a case-insensitive strings.Index that returns a byte offset
// into s.
func indexFold(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

// splitFrontMatter returns the raw YAML header and the byte offset where the
// body starts.
func splitFrontMatter(data []byte) ([]byte, int) {
	loc := frontMatterRe.FindSubmatchIndex(data)
	if loc == nil {
		return nil, 0
	}
	return data[loc[2]:loc[3]], loc[1]
}

func parseFrontMatter(fm []byte) (map[string][]string, []string, error) {
	result := make(map[string][]string)
	var tags []string
	if len(fm) == 0 {
		return result, tags, nil
	}

	var data yaml.Node
	if err := yaml.Unmarshal(fm, &data); err != nil {
		return nil, nil, err
	}
	if data.Kind != yaml.DocumentNode || len(data.Content) == 0 {
		return result, tags, nil
	}

	mapping := data.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return result, tags, nil
	}

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		values := flattenYAMLValue(mapping.Content[i+1])
		result[key] = values
		if key == "tags" {
			tags = values
		}
	}
	return result, tags, nil
}

func flattenYAMLValue(node *yaml.Node) []string {
	switch node.Kind {
	case yaml.SequenceNode:
		vals := make([]string, 0, len(node.Content))
		for _, child := range node.Content {
			vals = append(vals, child.Value)
		}
		return vals
	case yaml.ScalarNode:
		return []string{node.Value}
	default:
		return nil
	}
}

func extractLinks(content []byte) []string {
	links := make(map[string]struct{})
	for _, match := range wikiLinkRe.FindAllSubmatch(content, -1) {
		target, _, _ := strings.Cut(string(match[1]), "|")
		links[strings.TrimSpace(target)] = struct{}{}
	}
	for _, match := range mdLinkRe.FindAllSubmatch(content, -1) {
		links[strings.TrimSpace(string(match[1]))] = struct{}{}
	}
	return setToSortedSlice(links)
}

func bodySnippet(body string, index, termLen int) string {
	if termLen <= 0 {
		termLen = 1
	}

	runes := []rune(body)
	start := max(0, index)
	end := min(len(runes), index+termLen)

	snippetStart := max(0, start-snippetWindow)
	snippetEnd := min(len(runes), end+snippetWindow)

	snippet := strings.TrimSpace(string(runes[snippetStart:snippetEnd]))
	if snippetStart > 0 {
		snippet = "…" + snippet
	}
	if snippetEnd < len(runes) {
		snippet += "…"
	}
	return snippet
}

func setToSortedSlice(values map[string]struct{}) []string {
	out := make([]string, 0, len(values))
	for v := range values {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
