// Package decryptor turns a ResolvedKey plus assembled ciphertext (the
// init-map prepended when present) back into plaintext (§4.E). AES-128-CBC
// is grounded on the HLS decrypt loops in
// other_examples/.../omni/pkg/video/downloader/hls.go and
// other_examples/.../ytv1/internal/downloader/hls.go; CENC/SAMPLE-AES MP4
// decryption is built on github.com/Eyevinn/mp4ff's fragment/sample-
// encryption box model.
package decryptor

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"strings"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/jmylchreest/vsdl/internal/engineerr"
	"github.com/jmylchreest/vsdl/internal/playlist"
)

// Decrypt dispatches on resolved.Method. Any method other than Aes128,
// Cenc, and SampleAes returns data unchanged, per §4.E.
func Decrypt(resolved *playlist.ResolvedKey, data []byte) ([]byte, error) {
	if resolved == nil {
		return data, nil
	}
	switch resolved.Method {
	case playlist.Aes128:
		out, err := decryptAES128CBC(data, resolved.KeyMaterial, resolved.IV)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engineerr.ErrDecryptionFailed, err)
		}
		return out, nil

	case playlist.Cenc, playlist.SampleAes:
		// SAMPLE-AES is rejected earlier by keyresolver.Verify unless
		// no_decrypt is set, in which case Resolve/Decrypt are never
		// reached for it; MP4-level CENC decryption below handles both
		// method values identically.
		out, err := decryptCenc(data, resolved.KeyMaterial)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engineerr.ErrDecryptionFailed, err)
		}
		return out, nil

	default:
		return data, nil
	}
}

// decryptAES128CBC implements HLS EXT-X-KEY METHOD=AES-128: CBC decrypt
// followed by PKCS7 unpadding. iv is copied into a 16-byte block, so an iv
// shorter than 16 bytes is zero-padded on the right.
// internal/keyresolver.Resolve fills in the RFC 8216 §5.2
// media-sequence-number fallback when the manifest declares none.
func decryptAES128CBC(data, key, iv []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("aes-128 key must be 16 bytes, got %d", len(key))
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the AES block size", len(data))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	ivBlock := make([]byte, aes.BlockSize)
	copy(ivBlock, iv)

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, ivBlock).CryptBlocks(out, data)
	return pkcs7Unpad(out), nil
}

func pkcs7Unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) || padLen > aes.BlockSize {
		return data
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return data
		}
	}
	return data[:len(data)-padLen]
}

// decryptCenc decodes an ISO-BMFF fragment (init segment + media segment
// concatenated), decrypts every sample in every moof/mdat pair in place
// using the matching key from the "kid:key;..." set, and re-encodes the
// result. Every fragment is decrypted with one key taken from the set; the
// kids in the set are not compared against the tracks' key IDs, and when
// the set holds more than one key which of them is used is not defined.
// keyresolver normally filters the set to the segment's default_kid, so it
// usually holds a single key.
func decryptCenc(data, keySet []byte) ([]byte, error) {
	keys, err := parseKeySet(keySet)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no decryption keys available")
	}
	var fallback []byte
	for _, k := range keys {
		fallback = k
		break
	}

	f, err := mp4.DecodeFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding fragment: %w", err)
	}

	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if err := decryptFragment(frag, fallback); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Encode(&buf); err != nil {
		return nil, fmt.Errorf("re-encoding decrypted fragment: %w", err)
	}
	return buf.Bytes(), nil
}

// decryptFragment decrypts one moof/mdat pair in place using the sample
// sizes in trun and the per-sample IV/subsample layout in senc. A
// fragment with no senc box is assumed unencrypted and left untouched.
func decryptFragment(frag *mp4.Fragment, key []byte) error {
	if frag == nil || frag.Moof == nil || frag.Moof.Traf == nil || frag.Mdat == nil {
		return nil
	}
	traf := frag.Moof.Traf
	if traf.Senc == nil || traf.Trun == nil {
		return nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("building cenc cipher: %w", err)
	}

	mdat := frag.Mdat.Data
	entries := traf.Senc.SampleEncryptionEntries
	samples := traf.Trun.Samples

	offset := 0
	for i, sample := range samples {
		size := int(sample.Size)
		if size <= 0 || offset+size > len(mdat) {
			break
		}
		if i < len(entries) {
			if err := decryptSample(block, entries[i], mdat[offset:offset+size]); err != nil {
				return fmt.Errorf("decrypting sample %d: %w", i, err)
			}
		}
		offset += size
	}
	return nil
}

// decryptSample decrypts one sample's protected byte ranges in place with
// AES-CTR, keyed by entry's IV as the initial 128-bit counter block.
// Subsample entries interleave clear and protected spans (the common
// pattern for video, where NAL headers stay in the clear); an entry with no
// subsamples means the whole sample is protected.
func decryptSample(block cipher.Block, entry mp4.SampleEncryptionEntry, sample []byte) error {
	stream := cipher.NewCTR(block, ctrCounterBlock(entry.IV))

	if len(entry.Subsamples) == 0 {
		stream.XORKeyStream(sample, sample)
		return nil
	}

	pos := 0
	for _, sub := range entry.Subsamples {
		pos += int(sub.BytesOfClearData)
		protected := int(sub.BytesOfProtectedData)
		if protected == 0 {
			continue
		}
		if pos+protected > len(sample) {
			return fmt.Errorf("subsample protected span exceeds sample bounds")
		}
		chunk := sample[pos : pos+protected]
		stream.XORKeyStream(chunk, chunk)
		pos += protected
	}
	return nil
}

// ctrCounterBlock expands an 8-byte CENC IV (nonce, zero counter) or
// returns a full 16-byte IV as-is, per the CENC 'cenc' scheme's IV-to-
// counter-block convention.
func ctrCounterBlock(iv []byte) []byte {
	block := make([]byte, aes.BlockSize)
	copy(block, iv)
	return block
}

// parseKeySet decodes the "kid:key;kid:key;..." ASCII-hex set produced by
// internal/keyresolver.encodeKeySet.
func parseKeySet(material []byte) (map[string][]byte, error) {
	out := make(map[string][]byte)
	if len(material) == 0 {
		return out, nil
	}
	for _, part := range strings.Split(string(material), ";") {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed key set entry %q", part)
		}
		key, err := decodeHex(kv[1])
		if err != nil {
			return nil, fmt.Errorf("decoding key for kid %s: %w", kv[0], err)
		}
		out[kv[0]] = key
	}
	return out, nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
