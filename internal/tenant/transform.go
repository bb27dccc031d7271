package tenant

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// DistanceTolerance is the maximum absolute difference allowed between
// distances computed before and after a transform.
const DistanceTolerance = 1e-5

// ErrInvalidVector is returned for empty vectors or mismatched lengths.
var ErrInvalidVector = errors.New("invalid vector")

// Key is the transform material derived from a tenant ID.
//
// A Key is never persisted. It is recomputed from the tenant ID whenever a
// vector is stored or queried.
type Key struct {
	perm [32]byte
	sign [32]byte
}

// DeriveKey hashes tenantID with SHA-512. The first half keys the
// permutation, the second half keys the sign flips.
func DeriveKey(tenantID string) (Key, error) {
	if tenantID == "" {
		return Key{}, fmt.Errorf("%w: empty", ErrInvalidTenantID)
	}
	sum := sha512.Sum512([]byte(tenantID))
	var k Key
	copy(k.perm[:], sum[:32])
	copy(k.sign[:], sum[32:])
	return k, nil
}

// Permutation returns the Fisher-Yates permutation of [0, n) for this key.
//
// Step i (from n-1 down to 1) draws j = U64(HMAC(perm, counter)[:8]) mod (i+1),
// with counter starting at 0 and advancing once per swap. The modulo bias is
// at most n/2^64 and is accepted.
func (k Key) Permutation(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}

	mac := hmac.New(sha256.New, k.perm[:])
	var (
		counter uint64
		buf     [8]byte
	)
	for i := n - 1; i > 0; i-- {
		binary.BigEndian.PutUint64(buf[:], counter)
		counter++
		mac.Reset()
		mac.Write(buf[:])
		sum := mac.Sum(nil)
		j := int(binary.BigEndian.Uint64(sum[:8]) % uint64(i+1))
		p[i], p[j] = p[j], p[i]
	}
	return p
}

// Signs returns n factors of +1 or -1.
//
// Bits come from the sign key first, then from HMAC(sign, counter) blocks
// when more than 256 are needed. Bit i is bit (i mod 8) of byte i/8, least
// significant first. A set bit maps to -1.
func (k Key) Signs(n int) []float32 {
	need := (n + 7) / 8
	stream := make([]byte, 0, max(need, len(k.sign)))
	stream = append(stream, k.sign[:]...)

	if need > len(stream) {
		mac := hmac.New(sha256.New, k.sign[:])
		var (
			counter uint64
			buf     [8]byte
		)
		for len(stream) < need {
			binary.BigEndian.PutUint64(buf[:], counter)
			counter++
			mac.Reset()
			mac.Write(buf[:])
			stream = mac.Sum(stream)
		}
	}

	s := make([]float32, n)
	for i := range s {
		if (stream[i/8]>>(uint(i)%8))&1 == 1 {
			s[i] = -1
		} else {
			s[i] = 1
		}
	}
	return s
}

// Transform applies the tenant's orthogonal transform: out[i] = v[P[i]] * S[i].
//
// The result is deterministic for a given (tenantID, len(v)) and preserves
// Euclidean distance and cosine similarity between vectors transformed under
// the same tenant.
func Transform(tenantID string, v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidVector)
	}
	k, err := DeriveKey(tenantID)
	if err != nil {
		return nil, err
	}
	p := k.Permutation(len(v))
	s := k.Signs(len(v))

	out := make([]float32, len(v))
	for i := range out {
		out[i] = v[p[i]] * s[i]
	}
	return out, nil
}

// InverseTransform recovers the raw vector from a transformed one.
func InverseTransform(tenantID string, transformed []float32) ([]float32, error) {
	if len(transformed) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidVector)
	}
	k, err := DeriveKey(tenantID)
	if err != nil {
		return nil, err
	}
	p := k.Permutation(len(transformed))
	s := k.Signs(len(transformed))

	out := make([]float32, len(transformed))
	for i := range transformed {
		out[p[i]] = transformed[i] * s[i]
	}
	return out, nil
}

// VerifyDistancePreserving transforms v1 and v2 under tenantID and reports
// whether Euclidean distance and cosine similarity are unchanged within
// DistanceTolerance.
func VerifyDistancePreserving(tenantID string, v1, v2 []float32) (bool, error) {
	if len(v1) == 0 || len(v2) == 0 {
		return false, fmt.Errorf("%w: empty", ErrInvalidVector)
	}
	if len(v1) != len(v2) {
		return false, fmt.Errorf("%w: length mismatch %d != %d", ErrInvalidVector, len(v1), len(v2))
	}

	t1, err := Transform(tenantID, v1)
	if err != nil {
		return false, err
	}
	t2, err := Transform(tenantID, v2)
	if err != nil {
		return false, err
	}

	if math.Abs(Euclidean(v1, v2)-Euclidean(t1, t2)) > DistanceTolerance {
		return false, nil
	}
	if math.Abs(Cosine(v1, v2)-Cosine(t1, t2)) > DistanceTolerance {
		return false, nil
	}
	return true, nil
}

// Euclidean returns the L2 distance between equal-length vectors.
func Euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of equal-length vectors, or 0 when
// either has zero norm.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
