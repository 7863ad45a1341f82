// Package artifactcache is a content-addressed store for compiled eBPF
// artifacts (composed JSON objects, tar bundles, standalone BTF archives).
// Callers put an artifact once and get back a content identifier; repeated
// puts of identical bytes — the common case when a watcher re-delivers an
// artifact it has already seen, or a client resubmits the same program for
// a second task — are deduplicated for free.
package artifactcache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
	"github.com/multiformats/go-multihash"

	"github.com/saworbit/eunomia-runtime/internal/metrics"
)

const (
	prefixArtifact = "a:" // compressed artifact bytes, keyed by CID
	prefixRef      = "r:" // reference-count records, keyed by CID
)

const compressionMagic = "EART1"

// Store is a content-addressed cache of eBPF artifacts, backed by Pebble.
type Store struct {
	db       *pebble.DB
	hashAlgo string
}

// RefCount tracks which consumers (task names, watched file paths) are
// currently holding a CID alive.
type RefCount struct {
	CID       string   `json:"cid"`
	Refs      int      `json:"refs"`
	Consumers []string `json:"consumers"`
}

// Stats summarizes the contents of a Store.
type Stats struct {
	TotalArtifacts   int
	TotalSize        int64
	UnreferencedCIDs int
}

// Open wraps db as an artifact cache. hashAlgo selects the multihash
// function used to derive CIDs ("sha256" or "blake3"); db must not be nil.
func Open(db *pebble.DB, hashAlgo string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("artifactcache: pebble DB is nil")
	}
	switch hashAlgo {
	case "sha256", "blake3":
	default:
		return nil, fmt.Errorf("artifactcache: unsupported hash algorithm %q", hashAlgo)
	}
	return &Store{db: db, hashAlgo: hashAlgo}, nil
}

// CID computes the content identifier an artifact would be stored under,
// without storing it.
func (s *Store) CID(data []byte) (string, error) {
	var hashType uint64
	switch s.hashAlgo {
	case "sha256":
		hashType = multihash.SHA2_256
	case "blake3":
		hashType = multihash.BLAKE3
	}
	mh, err := multihash.Sum(data, hashType, -1)
	if err != nil {
		return "", fmt.Errorf("artifactcache: compute multihash: %w", err)
	}
	return mh.B58String(), nil
}

// Put stores an artifact and returns its CID. Storing bytes that are
// already present is a no-op beyond the hash computation.
func (s *Store) Put(data []byte) (string, error) {
	cid, err := s.CID(data)
	if err != nil {
		metrics.ObserveArtifactCacheOp("put", "error")
		return "", err
	}

	exists, err := s.Has(cid)
	if err != nil {
		metrics.ObserveArtifactCacheOp("put", "error")
		return "", err
	}
	if exists {
		metrics.ObserveArtifactCacheOp("put", "hit")
		return cid, nil
	}

	compressed, err := compress(data)
	if err != nil {
		metrics.ObserveArtifactCacheOp("put", "error")
		return "", fmt.Errorf("artifactcache: compress artifact: %w", err)
	}
	if err := s.db.Set(artifactKey(cid), compressed, pebble.Sync); err != nil {
		metrics.ObserveArtifactCacheOp("put", "error")
		return "", fmt.Errorf("artifactcache: store artifact: %w", err)
	}
	metrics.ObserveArtifactCacheOp("put", "ok")
	return cid, nil
}

// Get retrieves a previously stored artifact by CID.
func (s *Store) Get(cid string) ([]byte, error) {
	val, closer, err := s.db.Get(artifactKey(cid))
	if errors.Is(err, pebble.ErrNotFound) {
		metrics.ObserveArtifactCacheOp("get", "miss")
		return nil, fmt.Errorf("artifactcache: no artifact for CID %s", cid)
	}
	if err != nil {
		metrics.ObserveArtifactCacheOp("get", "error")
		return nil, err
	}
	defer closer.Close()

	copied := append([]byte(nil), val...)
	out, err := decompress(copied)
	if err != nil {
		metrics.ObserveArtifactCacheOp("get", "error")
		return nil, err
	}
	metrics.ObserveArtifactCacheOp("get", "ok")
	return out, nil
}

// Has reports whether cid is already cached.
func (s *Store) Has(cid string) (bool, error) {
	_, closer, err := s.db.Get(artifactKey(cid))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// Delete removes an artifact outright. Callers should check GetRefCount
// first; Delete does not consult reference counts itself.
func (s *Store) Delete(cid string) error {
	return s.db.Delete(artifactKey(cid), pebble.Sync)
}

// AddReference records that consumer (a task name or a watched file path)
// depends on cid staying cached.
func (s *Store) AddReference(cid, consumer string) error {
	key := refKey(cid)
	rc := RefCount{CID: cid}

	if val, closer, err := s.db.Get(key); err == nil {
		defer closer.Close()
		if err := json.Unmarshal(val, &rc); err != nil {
			return fmt.Errorf("artifactcache: decode ref count: %w", err)
		}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}

	for _, c := range rc.Consumers {
		if c == consumer {
			return nil
		}
	}
	rc.Refs++
	rc.Consumers = append(rc.Consumers, consumer)

	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("artifactcache: encode ref count: %w", err)
	}
	return s.db.Set(key, data, pebble.Sync)
}

// RemoveReference drops consumer's hold on cid. Once the last reference is
// removed the ref-count record itself is deleted, but the artifact bytes
// are left in place for GarbageCollect to reclaim.
func (s *Store) RemoveReference(cid, consumer string) error {
	key := refKey(cid)
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	var rc RefCount
	if err := json.Unmarshal(val, &rc); err != nil {
		return fmt.Errorf("artifactcache: decode ref count: %w", err)
	}

	remaining := rc.Consumers[:0]
	found := false
	for _, c := range rc.Consumers {
		if c == consumer {
			found = true
			continue
		}
		remaining = append(remaining, c)
	}
	if !found {
		return nil
	}
	rc.Consumers = remaining
	rc.Refs--

	if rc.Refs <= 0 {
		return s.db.Delete(key, pebble.Sync)
	}
	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("artifactcache: encode ref count: %w", err)
	}
	return s.db.Set(key, data, pebble.Sync)
}

// GetRefCount returns how many consumers currently hold cid alive.
func (s *Store) GetRefCount(cid string) (int, error) {
	val, closer, err := s.db.Get(refKey(cid))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	var rc RefCount
	if err := json.Unmarshal(val, &rc); err != nil {
		return 0, fmt.Errorf("artifactcache: decode ref count: %w", err)
	}
	return rc.Refs, nil
}

// GarbageCollect deletes every cached artifact with no remaining
// references and returns how many were removed.
func (s *Store) GarbageCollect() (int, error) {
	iter, err := newPrefixIter(s.db, prefixArtifact)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	for iter.First(); iter.Valid(); iter.Next() {
		cid := stripPrefix(iter.Key(), prefixArtifact)
		refs, err := s.GetRefCount(cid)
		if err != nil {
			return deleted, fmt.Errorf("artifactcache: ref count for %s: %w", cid, err)
		}
		if refs <= 0 {
			if err := s.db.Delete(artifactKey(cid), pebble.Sync); err != nil {
				return deleted, fmt.Errorf("artifactcache: delete %s: %w", cid, err)
			}
			deleted++
		}
	}
	return deleted, iter.Error()
}

// GetStats reports aggregate cache occupancy.
func (s *Store) GetStats() (Stats, error) {
	var stats Stats

	iter, err := newPrefixIter(s.db, prefixArtifact)
	if err != nil {
		return stats, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		stats.TotalArtifacts++
		stats.TotalSize += int64(len(iter.Value()))

		cid := stripPrefix(iter.Key(), prefixArtifact)
		refs, err := s.GetRefCount(cid)
		if err != nil {
			return stats, err
		}
		if refs <= 0 {
			stats.UnreferencedCIDs++
		}
	}
	if err := iter.Error(); err != nil {
		return stats, err
	}
	metrics.SetArtifactCacheBytes(stats.TotalSize)
	return stats, nil
}

var (
	encoderOnce sync.Once
	decoderOnce sync.Once
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	initErr     error
)

func getEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			initErr = err
			return
		}
		encoder = enc
	})
	return encoder, initErr
}

func getDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			initErr = err
			return
		}
		decoder = dec
	})
	return decoder, initErr
}

func compress(data []byte) ([]byte, error) {
	enc, err := getEncoder()
	if err != nil {
		return nil, err
	}
	return append([]byte(compressionMagic), enc.EncodeAll(data, nil)...), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) < len(compressionMagic) || !bytes.Equal(data[:len(compressionMagic)], []byte(compressionMagic)) {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	dec, err := getDecoder()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data[len(compressionMagic):], nil)
}

func artifactKey(cid string) []byte { return []byte(prefixArtifact + cid) }
func refKey(cid string) []byte      { return []byte(prefixRef + cid) }

func newPrefixIter(db *pebble.DB, prefix string) (*pebble.Iterator, error) {
	upper := append([]byte(prefix), 0xff)
	return db.NewIter(&pebble.IterOptions{LowerBound: []byte(prefix), UpperBound: upper})
}

func stripPrefix(key []byte, prefix string) string {
	k := append([]byte(nil), key...)
	return strings.TrimPrefix(string(k), prefix)
}
