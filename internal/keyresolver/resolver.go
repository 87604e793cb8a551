// Package keyresolver aggregates default KIDs across selected streams,
// discovers the key IDs declared in each stream's initialization segment's
// pssh boxes, verifies the user supplied a key for every KID that needs
// one, and builds the per-segment ResolvedKey the decryptor consumes
// (§4.C).
package keyresolver

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/jmylchreest/vsdl/internal/engineerr"
	"github.com/jmylchreest/vsdl/internal/playlist"
)

// UserKey is a (kid?, key) pair supplied via --key, both already decoded
// from ASCII-hex.
type UserKey struct {
	KID []byte // nil when the key applies by default_kid match alone
	Key []byte
}

// Options configures Resolver construction.
type Options struct {
	UserKeys  []UserKey
	NoDecrypt bool
	AllKeys   bool
	Logger    *slog.Logger
}

// Fetcher retrieves the full body at an absolute URL (a stream's
// initialization segment, or an AES-128 key); no byte range is applied.
type Fetcher func(ctx context.Context, absoluteURL string) ([]byte, error)

// Resolver holds the aggregated key state for one run.
type Resolver struct {
	opts Options
	log  *slog.Logger
}

// New constructs a Resolver.
func New(opts Options) *Resolver {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{opts: opts, log: log.With("component", "keyresolver")}
}

// drmSystemNames maps known pssh SystemID UUIDs to a human-readable DRM
// system name for the KeyId log line (§4.C step 2).
var drmSystemNames = map[string]string{
	strings.ToLower(mp4.UUIDWidevine):  "Widevine",
	strings.ToLower(mp4.UUIDPlayReady): "PlayReady",
	strings.ToLower(mp4.UUIDCommon):    "Common",
}

// Verify implements §4.C steps 1-3 over the selected video/audio streams:
// it collects each stream's first segment's default_kid, fetches and
// parses every referenced initialization segment's pssh boxes for
// discovery/logging, and fails with MissingKey if no_decrypt=false and any
// default_kid lacks a matching user key. Unsupported key methods
// (Other, HLS SampleAes) fail immediately unless no_decrypt=true.
func (r *Resolver) Verify(ctx context.Context, streams []*playlist.MediaPlaylist, base string, fetch Fetcher) error {
	defaultKIDs := make(map[string]bool)
	seenKIDs := make(map[string]bool)

	for _, stream := range streams {
		if len(stream.Segments) == 0 {
			continue
		}
		first := stream.Segments[0]
		key := first.Key
		if key == nil {
			continue
		}

		if !r.opts.NoDecrypt {
			switch key.Method {
			case playlist.KeyOther:
				return fmt.Errorf("%w: %q decryption is not supported; use --no-decrypt to download encrypted streams anyway", engineerr.ErrUnsupportedKeyMethod, key.KeyFormat)
			case playlist.SampleAes:
				return fmt.Errorf("%w: sample-aes decryption is not supported; use --no-decrypt to download encrypted streams anyway", engineerr.ErrUnsupportedKeyMethod)
			}
		}

		if key.DefaultKID != "" {
			defaultKIDs[strings.ToLower(playlist.NormalizeKID(key.DefaultKID))] = true
		}

		if first.Map == nil {
			continue
		}
		mapURL, err := first.Map.MapURL(firstNonEmpty(stream.BaseURI, base))
		if err != nil {
			return err
		}
		body, err := fetch(ctx, mapURL)
		if err != nil {
			return fmt.Errorf("fetching initialization segment %s: %w", mapURL, err)
		}
		for _, found := range discoverPssh(body) {
			if seenKIDs[found.kid] {
				continue
			}
			seenKIDs[found.kid] = true
			marker := " "
			if defaultKIDs[found.kid] {
				marker = "*"
			}
			r.log.Info("discovered content key", "marker", marker, "kid", found.kid, "drm_system", found.system)
		}
	}

	if r.opts.NoDecrypt {
		return nil
	}

	var missing []string
	for kid := range defaultKIDs {
		if !r.hasUserKeyFor(kid) {
			missing = append(missing, kid)
		}
	}
	if len(missing) > 0 {
		return &engineerr.MissingKeyError{KIDs: missing}
	}
	return nil
}

// Resolve builds a ResolvedKey from a segment's Key declaration (§4.C,
// segment-time resolution). sequenceNumber is the segment's media sequence
// number, used as the AES-128 IV fallback (RFC 8216 §5.2) when the
// manifest declares no explicit IV.
func (r *Resolver) Resolve(ctx context.Context, key *playlist.Key, base string, fetch Fetcher, sequenceNumber uint64) (*playlist.ResolvedKey, error) {
	if key == nil || key.Method == playlist.KeyNone {
		return &playlist.ResolvedKey{Method: playlist.KeyNone}, nil
	}

	switch key.Method {
	case playlist.Aes128:
		if key.KeyFormat != "" {
			// §9: the reference silently produces a zero-length key here;
			// that is treated as a latent bug and rejected instead.
			return nil, fmt.Errorf("%w: aes128 with non-identity keyformat %q", engineerr.ErrUnsupportedKeyMethod, key.KeyFormat)
		}
		keyURL, err := key.KeyURL(base)
		if err != nil {
			return nil, err
		}
		material, err := fetch(ctx, keyURL)
		if err != nil {
			return nil, fmt.Errorf("fetching aes128 key %s: %w", keyURL, err)
		}
		iv := ivBytes(key.IV)
		if iv == nil {
			iv = sequenceNumberIV(sequenceNumber)
		}
		return &playlist.ResolvedKey{Method: playlist.Aes128, KeyMaterial: material, IV: iv}, nil

	case playlist.Cenc, playlist.SampleAes:
		kid := strings.ToLower(playlist.NormalizeKID(key.DefaultKID))
		matched := r.matchingUserKeys(kid)
		if len(matched) == 0 {
			return nil, &engineerr.MissingKeyError{KIDs: []string{kid}}
		}
		return &playlist.ResolvedKey{Method: key.Method, KeyMaterial: encodeKeySet(matched)}, nil

	default:
		return &playlist.ResolvedKey{Method: key.Method}, nil
	}
}

func (r *Resolver) hasUserKeyFor(kid string) bool {
	if r.opts.AllKeys && len(r.opts.UserKeys) > 0 {
		return true
	}
	for _, uk := range r.opts.UserKeys {
		if uk.KID == nil || strings.EqualFold(fmt.Sprintf("%x", uk.KID), kid) {
			return true
		}
	}
	return false
}

// matchingUserKeys returns the user keys that apply to kid: keys matching
// the kid preferentially, or (when AllKeys) every user key.
func (r *Resolver) matchingUserKeys(kid string) []UserKey {
	if r.opts.AllKeys {
		return r.opts.UserKeys
	}
	var out []UserKey
	for _, uk := range r.opts.UserKeys {
		if uk.KID == nil || strings.EqualFold(fmt.Sprintf("%x", uk.KID), kid) {
			out = append(out, uk)
		}
	}
	return out
}

// encodeKeySet serializes matched keys as "kid:key;kid:key;..." ASCII, no
// trailing separator, per the ResolvedKey.KeyMaterial contract (§3).
func encodeKeySet(keys []UserKey) []byte {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%x:%x", k.KID, k.Key))
	}
	return []byte(strings.Join(parts, ";"))
}

// sequenceNumberIV builds the RFC 8216 §5.2 fallback IV: the segment's
// media sequence number as a 16-byte big-endian integer.
func sequenceNumberIV(seq uint64) []byte {
	iv := make([]byte, 16)
	binary.BigEndian.PutUint64(iv[8:], seq)
	return iv
}

func ivBytes(iv string) []byte {
	if iv == "" {
		return nil
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(iv, "0x"), "0X")
	out := make([]byte, 0, len(trimmed)/2)
	for i := 0; i+1 < len(trimmed); i += 2 {
		var b byte
		if _, err := fmt.Sscanf(trimmed[i:i+2], "%02x", &b); err != nil {
			return nil
		}
		out = append(out, b)
	}
	return out
}

type psshInfo struct {
	kid    string
	system string
}

// discoverPssh walks the top-level boxes of an initialization segment and
// decodes every pssh box's key IDs and system ID (§4.C step 2). Parse
// failures are swallowed: pssh discovery is informational logging, not a
// correctness requirement — a stream with no decodable pssh box simply
// logs nothing.
func discoverPssh(data []byte) []psshInfo {
	f, err := mp4.DecodeFile(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	var out []psshInfo
	var walk func(children []mp4.Box)
	walk = func(children []mp4.Box) {
		for _, b := range children {
			if pssh, ok := b.(*mp4.PsshBox); ok {
				system := drmSystemNames[strings.ToLower(pssh.SystemID.String())]
				if system == "" {
					system = pssh.SystemID.String()
				}
				for _, kid := range pssh.KIDs {
					out = append(out, psshInfo{kid: strings.ToLower(strings.ReplaceAll(kid.String(), "-", "")), system: system})
				}
			}
			if bc, ok := b.(interface{ GetChildren() []mp4.Box }); ok {
				walk(bc.GetChildren())
			}
		}
	}
	walk(f.Children)
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
