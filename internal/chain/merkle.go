package chain

import (
	"crypto/sha256"
	"encoding/hex"
)

// ProofStep is one sibling hash on the path from a leaf to the root. Left
// reports whether the sibling sits to the left of the running hash.
type ProofStep struct {
	Hash string `json:"hash"`
	Left bool   `json:"left"`
}

// MerkleRoot builds a binary Merkle tree bottom-up over the ordered hash list
// and returns the root. An odd node at any level is paired with itself; proof
// verification relies on the same convention. An empty list yields the genesis
// hash and a single hash is its own root.
func MerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return GenesisHash
	}

	level := make([]string, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				// Odd node: paired with itself.
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}

// MerkleProof returns the sibling path from target to the root of the tree
// over hashes. It returns nil if target is not present. The proof together
// with MerkleRoot(hashes) suffices for independent verification.
func MerkleProof(hashes []string, target string) []ProofStep {
	index := -1
	for i, h := range hashes {
		if h == target {
			index = i
			break
		}
	}
	if index == -1 {
		return nil
	}

	proof := []ProofStep{}
	level := make([]string, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		sibling := index ^ 1
		if sibling >= len(level) {
			// Odd node: its sibling is itself.
			sibling = index
		}
		proof = append(proof, ProofStep{
			Hash: level[sibling],
			Left: sibling < index,
		})

		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
		index /= 2
	}
	return proof
}

// VerifyProof replays a proof path from leaf and reports whether it reaches
// root.
func VerifyProof(leaf string, proof []ProofStep, root string) bool {
	current := leaf
	for _, step := range proof {
		if step.Left {
			current = hashPair(step.Hash, current)
		} else {
			current = hashPair(current, step.Hash)
		}
	}
	return current == root
}

func hashPair(left, right string) string {
	sum := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}
