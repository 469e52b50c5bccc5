// Package cache implements C8: a content-addressed store of JobRecords
// keyed by Fingerprint, with three inverted indexes (company, technology,
// location token) and a bounded LRU of hot decompressed entries. Grounded
// on the teacher's storage backends (internal/storage/file.go's streaming
// file writers, internal/storage/database.go's Mongo mirror pattern) —
// generalized from "flush a batch of Items to an output format" into
// "maintain a durable, queryable, content-addressed store with a
// rebuild-on-mismatch startup contract."
package cache

import (
	"bytes"
	"container/list"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/edukz/vagas-collector/internal/errs"
	"github.com/edukz/vagas-collector/internal/jobrecord"
)

const defaultHotCapacity = 4096

// Entry is what C8 stores and returns from queries.
type Entry struct {
	Fingerprint      [16]byte
	Record           *jobrecord.JobRecord
	FirstSeenAt      time.Time
	LastSeenAt       time.Time
	ObservationCount int
}

type meta struct {
	offset int64
	length int32
}

// SearchQuery narrows Search to the intersection of the given dimensions;
// a nil/empty field means "don't filter on that dimension."
type SearchQuery struct {
	Companies    []string
	Technologies []string
	Locations    []string
	Since        time.Time
}

// EvictPolicy bounds what Evict removes.
type EvictPolicy struct {
	OlderThan  time.Duration // zero means no age-based eviction
	MaxEntries int           // zero means no count-based eviction
}

// Cache is the primary content-addressed store plus its secondary indexes.
type Cache struct {
	mu               sync.RWMutex
	dir              string
	blobFile         *os.File
	compressionLevel int
	maxSizeMB        int
	logger           *slog.Logger

	primary map[[16]byte]*meta

	companyIdx  map[string]map[[16]byte]struct{}
	techIdx     map[string]map[[16]byte]struct{}
	locationIdx map[string]map[[16]byte]struct{}

	companyFreq map[string]int
	techFreq    map[string]int

	hot      *list.List
	hotIndex map[[16]byte]*list.Element
	hotCap   int
}

type hotItem struct {
	fp    [16]byte
	entry *Entry
}

type wireEntry struct {
	Record           *jobrecord.JobRecord `json:"record"`
	FirstSeenAt      time.Time            `json:"firstSeenAt"`
	LastSeenAt       time.Time            `json:"lastSeenAt"`
	ObservationCount int                  `json:"observationCount"`
}

type wireIndex struct {
	PrimaryChecksum string              `json:"primaryChecksum"`
	Company         map[string][]string `json:"company"`
	Technology      map[string][]string `json:"technology"`
	Location        map[string][]string `json:"location"`
	CompanyFreq     map[string]int      `json:"companyFreq"`
	TechFreq        map[string]int      `json:"techFreq"`
}

func primaryPath(dir string) string { return filepath.Join(dir, "primary.blob") }
func indexPath(dir string) string   { return filepath.Join(dir, "index.bin") }

// Open loads or creates the cache rooted at dir. If the stored index's
// checksum of primary.blob doesn't match the blob's current checksum, the
// indexes are rebuilt by scanning the primary from scratch.
func Open(dir string, compressionLevel, maxSizeMB int, logger *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &errs.CacheError{Op: "open", Cause: err}
	}

	blob, err := os.OpenFile(primaryPath(dir), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &errs.CacheError{Op: "open-primary", Cause: err}
	}

	c := &Cache{
		dir:              dir,
		blobFile:         blob,
		compressionLevel: compressionLevel,
		maxSizeMB:        maxSizeMB,
		logger:           logger.With("component", "cache"),
		primary:          make(map[[16]byte]*meta),
		companyIdx:       make(map[string]map[[16]byte]struct{}),
		techIdx:          make(map[string]map[[16]byte]struct{}),
		locationIdx:      make(map[string]map[[16]byte]struct{}),
		companyFreq:      make(map[string]int),
		techFreq:         make(map[string]int),
		hot:              list.New(),
		hotIndex:         make(map[[16]byte]*list.Element),
		hotCap:           defaultHotCapacity,
	}

	if err := c.loadOrRebuild(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) checksumPrimary() (string, error) {
	if _, err := c.blobFile.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(h, c.blobFile); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func (c *Cache) loadOrRebuild() error {
	sum, err := c.checksumPrimary()
	if err != nil {
		return &errs.CacheError{Op: "checksum", Cause: err}
	}

	data, err := os.ReadFile(indexPath(c.dir))
	if err == nil {
		var wi wireIndex
		if jsonErr := json.Unmarshal(data, &wi); jsonErr == nil && wi.PrimaryChecksum == sum {
			c.loadIndexFrom(wi)
			return c.scanPrimaryOffsets()
		}
		c.logger.Warn("index checksum mismatch, rebuilding from primary")
	}

	return c.rebuildFromPrimary()
}

func (c *Cache) loadIndexFrom(wi wireIndex) {
	for k, fps := range wi.Company {
		c.companyIdx[k] = hexSetToFPSet(fps)
	}
	for k, fps := range wi.Technology {
		c.techIdx[k] = hexSetToFPSet(fps)
	}
	for k, fps := range wi.Location {
		c.locationIdx[k] = hexSetToFPSet(fps)
	}
	c.companyFreq = wi.CompanyFreq
	c.techFreq = wi.TechFreq
}

func hexSetToFPSet(hexes []string) map[[16]byte]struct{} {
	out := make(map[[16]byte]struct{}, len(hexes))
	for _, h := range hexes {
		var b []byte
		if n, err := fmt.Sscanf(h, "%x", &b); err == nil && n == 1 && len(b) == 16 {
			var fp [16]byte
			copy(fp[:], b)
			out[fp] = struct{}{}
		}
	}
	return out
}

// scanPrimaryOffsets rebuilds only the offset table (primary map), trusting
// the loaded indexes — used when the index checksum matched.
func (c *Cache) scanPrimaryOffsets() error {
	if _, err := c.blobFile.Seek(0, io.SeekStart); err != nil {
		return &errs.CacheError{Op: "scan", Cause: err}
	}
	var offset int64
	for {
		lenBuf := make([]byte, 4)
		n, err := io.ReadFull(c.blobFile, lenBuf)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err != nil {
			return &errs.CacheError{Op: "scan", Cause: err}
		}
		length := binary.BigEndian.Uint32(lenBuf)
		payload := make([]byte, length)
		if _, err := io.ReadFull(c.blobFile, payload); err != nil {
			return &errs.CacheError{Op: "scan", Cause: err}
		}

		we, err := decodeWireEntry(payload)
		if err == nil {
			c.primary[we.Record.Fingerprint] = &meta{offset: offset + 4, length: int32(length)}
		}
		offset += 4 + int64(length)
	}
	return nil
}

// rebuildFromPrimary re-derives the primary offset table and every index
// from scratch by scanning the blob front to back.
func (c *Cache) rebuildFromPrimary() error {
	c.primary = make(map[[16]byte]*meta)
	c.companyIdx = make(map[string]map[[16]byte]struct{})
	c.techIdx = make(map[string]map[[16]byte]struct{})
	c.locationIdx = make(map[string]map[[16]byte]struct{})
	c.companyFreq = make(map[string]int)
	c.techFreq = make(map[string]int)

	if _, err := c.blobFile.Seek(0, io.SeekStart); err != nil {
		return &errs.CacheError{Op: "rebuild", Cause: err}
	}

	var offset int64
	for {
		lenBuf := make([]byte, 4)
		n, err := io.ReadFull(c.blobFile, lenBuf)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err != nil {
			return &errs.CacheError{Op: "rebuild", Cause: err}
		}
		length := binary.BigEndian.Uint32(lenBuf)
		payload := make([]byte, length)
		if _, err := io.ReadFull(c.blobFile, payload); err != nil {
			return &errs.CacheError{Op: "rebuild", Cause: err}
		}

		we, err := decodeWireEntry(payload)
		if err != nil {
			c.logger.Warn("skipping corrupt cache entry during rebuild", "error", err)
			offset += 4 + int64(length)
			continue
		}
		fp := we.Record.Fingerprint
		c.primary[fp] = &meta{offset: offset + 4, length: int32(length)}
		c.indexRecord(fp, we.Record)
		offset += 4 + int64(length)
	}

	return c.persistIndex()
}

func decodeWireEntry(compressed []byte) (*wireEntry, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	var we wireEntry
	if err := json.Unmarshal(raw, &we); err != nil {
		return nil, err
	}
	return &we, nil
}

func encodeWireEntry(we *wireEntry, level int) ([]byte, error) {
	raw, err := json.Marshal(we)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Get satisfies dedup.Cache — returns the latest record for fp.
func (c *Cache) Get(fp [16]byte) (*jobrecord.JobRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.hotIndex[fp]; ok {
		c.hot.MoveToFront(el)
		return el.Value.(*hotItem).entry.Record, true
	}

	m, ok := c.primary[fp]
	if !ok {
		return nil, false
	}
	entry, err := c.readEntry(m)
	if err != nil {
		c.logger.Error("cache read failed", "error", err)
		return nil, false
	}
	c.promote(fp, entry)
	return entry.Record, true
}

func (c *Cache) readEntry(m *meta) (*Entry, error) {
	payload := make([]byte, m.length)
	if _, err := c.blobFile.ReadAt(payload, m.offset); err != nil {
		return nil, err
	}
	we, err := decodeWireEntry(payload)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Fingerprint:      we.Record.Fingerprint,
		Record:           we.Record,
		FirstSeenAt:      we.FirstSeenAt,
		LastSeenAt:       we.LastSeenAt,
		ObservationCount: we.ObservationCount,
	}, nil
}

func (c *Cache) promote(fp [16]byte, entry *Entry) {
	el := c.hot.PushFront(&hotItem{fp: fp, entry: entry})
	c.hotIndex[fp] = el
	for c.hot.Len() > c.hotCap {
		oldest := c.hot.Back()
		if oldest == nil {
			break
		}
		c.hot.Remove(oldest)
		delete(c.hotIndex, oldest.Value.(*hotItem).fp)
	}
}

// Put satisfies dedup.Cache — writes r as the latest observation of its
// Fingerprint, appending a new compressed blob entry (the old bytes remain
// in the file but are no longer reachable from the primary map) and
// updating all three indexes under the same write-critical section.
func (c *Cache) Put(r *jobrecord.JobRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := r.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	firstSeen, observations := now, 1
	if prevMeta, ok := c.primary[r.Fingerprint]; ok {
		if prev, err := c.readEntry(prevMeta); err == nil {
			firstSeen = prev.FirstSeenAt
			observations = prev.ObservationCount + 1
		}
		c.unindexRecord(r.Fingerprint)
	}

	we := &wireEntry{Record: r, FirstSeenAt: firstSeen, LastSeenAt: now, ObservationCount: observations}
	compressed, err := encodeWireEntry(we, c.compressionLevel)
	if err != nil {
		return &errs.CacheError{Op: "encode", Cause: err}
	}

	offset, err := c.blobFile.Seek(0, io.SeekEnd)
	if err != nil {
		return &errs.CacheError{Op: "seek", Cause: err}
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(compressed)))
	if _, err := c.blobFile.Write(lenBuf); err != nil {
		return &errs.CacheError{Op: "write", Cause: err}
	}
	if _, err := c.blobFile.Write(compressed); err != nil {
		return &errs.CacheError{Op: "write", Cause: err}
	}

	c.primary[r.Fingerprint] = &meta{offset: offset + 4, length: int32(len(compressed))}
	c.indexRecord(r.Fingerprint, r)
	c.promote(r.Fingerprint, &Entry{Fingerprint: r.Fingerprint, Record: r, FirstSeenAt: firstSeen, LastSeenAt: now, ObservationCount: observations})

	if err := c.persistIndex(); err != nil {
		c.logger.Error("index persist failed", "error", err)
	}

	return c.enforceSizeBudgetLocked()
}

func (c *Cache) indexRecord(fp [16]byte, r *jobrecord.JobRecord) {
	company := strings.ToLower(strings.TrimSpace(r.Company))
	if company != "" {
		addToIndex(c.companyIdx, company, fp)
		c.companyFreq[company]++
	}
	for tech := range r.Technologies {
		addToIndex(c.techIdx, tech, fp)
		c.techFreq[tech]++
	}
	for _, tok := range locationTokens(r.Location) {
		addToIndex(c.locationIdx, tok, fp)
	}
}

func (c *Cache) unindexRecord(fp [16]byte) {
	m, ok := c.primary[fp]
	if !ok {
		return
	}
	prev, err := c.readEntry(m)
	if err != nil {
		return
	}
	company := strings.ToLower(strings.TrimSpace(prev.Record.Company))
	if company != "" {
		removeFromIndex(c.companyIdx, company, fp)
		c.companyFreq[company]--
	}
	for tech := range prev.Record.Technologies {
		removeFromIndex(c.techIdx, tech, fp)
		c.techFreq[tech]--
	}
	for _, tok := range locationTokens(prev.Record.Location) {
		removeFromIndex(c.locationIdx, tok, fp)
	}
}

func addToIndex(idx map[string]map[[16]byte]struct{}, key string, fp [16]byte) {
	set, ok := idx[key]
	if !ok {
		set = make(map[[16]byte]struct{})
		idx[key] = set
	}
	set[fp] = struct{}{}
}

func removeFromIndex(idx map[string]map[[16]byte]struct{}, key string, fp [16]byte) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, fp)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func locationTokens(loc string) []string {
	fields := strings.FieldsFunc(strings.ToLower(loc), func(r rune) bool {
		return r == ',' || r == '/' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (c *Cache) persistIndex() error {
	wi := wireIndex{
		Company:     fpSetToHex(c.companyIdx),
		Technology:  fpSetToHex(c.techIdx),
		Location:    fpSetToHex(c.locationIdx),
		CompanyFreq: c.companyFreq,
		TechFreq:    c.techFreq,
	}
	sum, err := c.checksumPrimary()
	if err != nil {
		return err
	}
	wi.PrimaryChecksum = sum

	data, err := json.MarshalIndent(wi, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, "index-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, indexPath(c.dir))
}

func fpSetToHex(idx map[string]map[[16]byte]struct{}) map[string][]string {
	out := make(map[string][]string, len(idx))
	for key, set := range idx {
		hexes := make([]string, 0, len(set))
		for fp := range set {
			hexes = append(hexes, fmt.Sprintf("%x", fp))
		}
		sort.Strings(hexes)
		out[key] = hexes
	}
	return out
}

// Search returns entries matching the intersection of the given
// dimensions, filtered by Since.
func (c *Cache) Search(q SearchQuery) []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sets []map[[16]byte]struct{}
	for _, company := range q.Companies {
		sets = append(sets, c.companyIdx[strings.ToLower(company)])
	}
	for _, tech := range q.Technologies {
		sets = append(sets, c.techIdx[strings.ToLower(tech)])
	}
	for _, loc := range q.Locations {
		sets = append(sets, c.locationIdx[strings.ToLower(loc)])
	}

	var candidates map[[16]byte]struct{}
	if len(sets) == 0 {
		candidates = make(map[[16]byte]struct{}, len(c.primary))
		for fp := range c.primary {
			candidates[fp] = struct{}{}
		}
	} else {
		candidates = intersect(sets)
	}

	out := make([]*Entry, 0, len(candidates))
	for fp := range candidates {
		m, ok := c.primary[fp]
		if !ok {
			continue
		}
		entry, err := c.readEntry(m)
		if err != nil {
			continue
		}
		if !q.Since.IsZero() && entry.LastSeenAt.Before(q.Since) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func intersect(sets []map[[16]byte]struct{}) map[[16]byte]struct{} {
	if len(sets) == 0 {
		return nil
	}
	smallest := sets[0]
	for _, s := range sets[1:] {
		if len(s) < len(smallest) {
			smallest = s
		}
	}
	out := make(map[[16]byte]struct{})
	for fp := range smallest {
		inAll := true
		for _, s := range sets {
			if _, ok := s[fp]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out[fp] = struct{}{}
		}
	}
	return out
}

// countFreq is a name/count pair used by TopCompanies/TopTechnologies.
type countFreq struct {
	Name  string
	Count int
}

// TopCompanies returns the n companies with the most observed records.
func (c *Cache) TopCompanies(n int) []countFreq {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return topN(c.companyFreq, n)
}

// TopTechnologies returns the n technologies with the most observed records.
func (c *Cache) TopTechnologies(n int) []countFreq {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return topN(c.techFreq, n)
}

func topN(freq map[string]int, n int) []countFreq {
	out := make([]countFreq, 0, len(freq))
	for k, v := range freq {
		if v <= 0 {
			continue
		}
		out = append(out, countFreq{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Evict removes entries matching policy from the primary map and every
// index, atomically with respect to readers holding the write lock.
func (c *Cache) Evict(policy EvictPolicy) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(policy)
}

func (c *Cache) evictLocked(policy EvictPolicy) int {
	type scored struct {
		fp       [16]byte
		lastSeen time.Time
	}
	all := make([]scored, 0, len(c.primary))
	for fp, m := range c.primary {
		entry, err := c.readEntry(m)
		if err != nil {
			continue
		}
		all = append(all, scored{fp: fp, lastSeen: entry.LastSeenAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].lastSeen.Before(all[j].lastSeen) })

	var toEvict []scored
	now := time.Now().UTC()
	for _, s := range all {
		if policy.OlderThan > 0 && now.Sub(s.lastSeen) > policy.OlderThan {
			toEvict = append(toEvict, s)
		}
	}
	if policy.MaxEntries > 0 && len(c.primary) > policy.MaxEntries {
		excess := len(c.primary) - policy.MaxEntries
		seen := make(map[[16]byte]struct{}, len(toEvict))
		for _, s := range toEvict {
			seen[s.fp] = struct{}{}
		}
		for _, s := range all {
			if len(toEvict) >= excess {
				break
			}
			if _, already := seen[s.fp]; already {
				continue
			}
			toEvict = append(toEvict, s)
		}
	}

	for _, s := range toEvict {
		c.unindexRecord(s.fp)
		delete(c.primary, s.fp)
		if el, ok := c.hotIndex[s.fp]; ok {
			c.hot.Remove(el)
			delete(c.hotIndex, s.fp)
		}
	}
	if len(toEvict) > 0 {
		if err := c.persistIndex(); err != nil {
			c.logger.Error("index persist failed after evict", "error", err)
		}
	}
	return len(toEvict)
}

func (c *Cache) enforceSizeBudgetLocked() error {
	if c.maxSizeMB <= 0 {
		return nil
	}
	info, err := c.blobFile.Stat()
	if err != nil {
		return &errs.CacheError{Op: "stat", Cause: err}
	}
	if info.Size() <= int64(c.maxSizeMB)*1024*1024 {
		return nil
	}
	c.evictLocked(EvictPolicy{MaxEntries: len(c.primary) * 9 / 10})
	return nil
}

// Len reports the number of live entries in the primary map.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.primary)
}

// Close flushes the index and closes the primary blob file.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.persistIndex(); err != nil {
		return &errs.CacheError{Op: "close", Cause: err}
	}
	if err := c.blobFile.Close(); err != nil {
		return &errs.CacheError{Op: "close", Cause: err}
	}
	return nil
}
