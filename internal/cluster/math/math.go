// Package math implements the secret-sharing arithmetic used by share
// records: scalars modulo the secp256k1 group order, polynomial evaluation,
// public commitments, and Lagrange interpolation.
package math

import (
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/pkg/errors"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
)

var (
	curve = btcec.S256()
	order = btcec.S256().Params().N
)

// RandomScalar returns a uniformly random non-zero scalar.
func RandomScalar() (cluster.EvaluationPoint, error) {
	for {
		v, err := rand.Int(rand.Reader, order)
		if err != nil {
			return "", errors.Wrap(err, "failed to generate random scalar")
		}
		if v.Sign() != 0 {
			return FormatScalar(v), nil
		}
	}
}

// FormatScalar encodes a scalar as a 32-byte hex string.
func FormatScalar(v *big.Int) cluster.EvaluationPoint {
	var buf [32]byte
	new(big.Int).Mod(v, order).FillBytes(buf[:])
	return cluster.EvaluationPoint(hex.EncodeToString(buf[:]))
}

// ParseScalar decodes a hex scalar and reduces it modulo the group order.
func ParseScalar(p cluster.EvaluationPoint) (*big.Int, error) {
	raw, err := hex.DecodeString(string(p))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode scalar")
	}
	return new(big.Int).Mod(new(big.Int).SetBytes(raw), order), nil
}

// evalPolynomial evaluates f at x using Horner's rule, modulo the group
// order. coeffs[0] is the constant term.
func evalPolynomial(coeffs []*big.Int, x *big.Int) *big.Int {
	res := new(big.Int)
	for i := len(coeffs) - 1; i >= 0; i-- {
		res.Mul(res, x)
		res.Add(res, coeffs[i])
		res.Mod(res, order)
	}
	return res
}

// commitments maps polynomial coefficients to compressed curve points
// (coefficient times the generator), hex-encoded.
func commitments(coeffs []*big.Int) []string {
	out := make([]string, len(coeffs))
	for i, c := range coeffs {
		x, y := curve.ScalarBaseMult(c.Bytes())
		out[i] = hex.EncodeToString(elliptic.MarshalCompressed(curve, x, y))
	}
	return out
}

// InterpolateAtZero computes f(0) from threshold+1 points of a degree
// threshold polynomial via Lagrange interpolation modulo the group order.
func InterpolateAtZero(xs, ys []*big.Int) (*big.Int, error) {
	if len(xs) == 0 || len(xs) != len(ys) {
		return nil, errors.New("mismatched interpolation points")
	}

	secret := new(big.Int)
	for j := range xs {
		num := big.NewInt(1)
		den := big.NewInt(1)
		for m := range xs {
			if m == j {
				continue
			}
			num.Mul(num, xs[m])
			num.Mod(num, order)
			den.Mul(den, new(big.Int).Sub(xs[m], xs[j]))
			den.Mod(den, order)
		}
		inv := new(big.Int).ModInverse(den, order)
		if inv == nil {
			return nil, errors.New("duplicate evaluation point")
		}
		lag := new(big.Int).Mul(num, inv)
		lag.Mul(lag, ys[j])
		secret.Add(secret, lag)
		secret.Mod(secret, order)
	}
	return secret, nil
}

// Deal runs a trusted-dealer generation of a fresh secret shared among
// holders with the given polynomial degree (threshold). It returns one
// consistent ShareRecord per holder plus the joint secret. Reconstruction
// needs threshold+1 shares.
func Deal(author cluster.NodeID, threshold int, holders []cluster.NodeID) (map[cluster.NodeID]*cluster.ShareRecord, *big.Int, error) {
	if threshold < 0 {
		return nil, nil, errors.New("threshold must not be negative")
	}
	if len(holders) < threshold+1 {
		return nil, nil, errors.Errorf("need at least %d holders for threshold %d, got %d",
			threshold+1, threshold, len(holders))
	}

	coeffs := make([]*big.Int, threshold+1)
	for i := range coeffs {
		p, err := RandomScalar()
		if err != nil {
			return nil, nil, err
		}
		coeffs[i], _ = ParseScalar(p)
	}

	idNumbers := make(map[cluster.NodeID]cluster.EvaluationPoint, len(holders))
	for _, n := range holders {
		p, err := RandomScalar()
		if err != nil {
			return nil, nil, err
		}
		idNumbers[n] = p
	}

	comm := commitments(coeffs)
	records := make(map[cluster.NodeID]*cluster.ShareRecord, len(holders))
	for _, n := range holders {
		x, err := ParseScalar(idNumbers[n])
		if err != nil {
			return nil, nil, err
		}
		rec := &cluster.ShareRecord{
			Author:      author,
			Threshold:   threshold,
			IDNumbers:   idNumbers,
			Commitments: comm,
			SecretShare: string(FormatScalar(evalPolynomial(coeffs, x))),
		}
		// each holder owns an independent copy of id_numbers
		records[n] = rec.Clone()
	}

	return records, new(big.Int).Set(coeffs[0]), nil
}

// Reconstruct recovers the joint secret from the stored shares of the given
// nodes. It needs threshold+1 participating nodes; their evaluation points
// are read from their own records.
func Reconstruct(records map[cluster.NodeID]*cluster.ShareRecord, nodes []cluster.NodeID) (*big.Int, error) {
	if len(nodes) == 0 {
		return nil, errors.New("no nodes to reconstruct from")
	}

	var xs, ys []*big.Int
	for _, n := range nodes {
		record, ok := records[n]
		if !ok || record == nil {
			return nil, errors.Errorf("node %s has no share record", n)
		}
		point, ok := record.IDNumbers[n]
		if !ok {
			return nil, errors.Errorf("node %s is not a holder in its own record", n)
		}
		x, err := ParseScalar(point)
		if err != nil {
			return nil, err
		}
		y, err := ParseScalar(cluster.EvaluationPoint(record.SecretShare))
		if err != nil {
			return nil, err
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}

	threshold := records[nodes[0]].Threshold
	if len(nodes) < threshold+1 {
		return nil, errors.Errorf("need %d shares to reconstruct, got %d", threshold+1, len(nodes))
	}

	return InterpolateAtZero(xs, ys)
}
