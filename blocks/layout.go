package blocks

import (
	"errors"
	"fmt"
)

var ErrShape = errors.New("block shape mismatch")

// Layout describes the projector index space shared by every atom.
// Projector index inl = iat*NShells() + nl, and shell nl carries angular
// momentum ShellL[nl] and block side 2l+1.
type Layout struct {
	NAtoms int   // Number of atoms (nat)
	ShellL []int // Angular momentum of each projector shell (len = nlmax)
}

// NewLayout validates and returns a layout for nat atoms with the given shells
func NewLayout(nat int, shellL []int) (Layout, error) {
	if nat < 1 {
		return Layout{}, fmt.Errorf("%w: atom count %d", ErrShape, nat)
	}
	if len(shellL) == 0 {
		return Layout{}, fmt.Errorf("%w: no projector shells", ErrShape)
	}
	for nl, l := range shellL {
		if l < 0 {
			return Layout{}, fmt.Errorf("%w: shell %d has negative l=%d", ErrShape, nl, l)
		}
	}
	sl := make([]int, len(shellL))
	copy(sl, shellL)
	return Layout{NAtoms: nat, ShellL: sl}, nil
}

// LayoutFromInlL builds a layout from the flat per-projector angular
// momentum array used by the host simulation. Every atom must carry the
// same shell sequence; the contraction stages stack shells across atoms.
func LayoutFromInlL(nat int, inlL []int) (Layout, error) {
	if nat < 1 {
		return Layout{}, fmt.Errorf("%w: atom count %d", ErrShape, nat)
	}
	if len(inlL) == 0 || len(inlL)%nat != 0 {
		return Layout{}, fmt.Errorf("%w: inlmax %d is not a multiple of nat %d",
			ErrShape, len(inlL), nat)
	}
	nlmax := len(inlL) / nat
	for iat := 1; iat < nat; iat++ {
		for nl := 0; nl < nlmax; nl++ {
			if inlL[iat*nlmax+nl] != inlL[nl] {
				return Layout{}, fmt.Errorf("%w: atom %d shell %d has l=%d, atom 0 has l=%d",
					ErrShape, iat, nl, inlL[iat*nlmax+nl], inlL[nl])
			}
		}
	}
	return NewLayout(nat, inlL[:nlmax])
}

// NShells returns nlmax
func (l Layout) NShells() int { return len(l.ShellL) }

// Inlmax returns the total number of (atom, shell) projectors
func (l Layout) Inlmax() int { return l.NAtoms * len(l.ShellL) }

// Inl maps (atom, shell) to the flat projector index
func (l Layout) Inl(iat, nl int) int { return iat*len(l.ShellL) + nl }

// Split is the inverse of Inl
func (l Layout) Split(inl int) (iat, nl int) {
	return inl / len(l.ShellL), inl % len(l.ShellL)
}

// Nm returns the block side of shell nl
func (l Layout) Nm(nl int) int { return 2*l.ShellL[nl] + 1 }

// NmInl returns the block side of projector inl
func (l Layout) NmInl(inl int) int { return l.Nm(inl % len(l.ShellL)) }

// DesPerAtom is the length of one atom's concatenated descriptor vector
func (l Layout) DesPerAtom() int {
	n := 0
	for nl := range l.ShellL {
		n += l.Nm(nl)
	}
	return n
}

// DesOffset returns where shell nl starts inside an atom's descriptor vector
func (l Layout) DesOffset(nl int) int {
	off := 0
	for i := 0; i < nl; i++ {
		off += l.Nm(i)
	}
	return off
}

// InlL expands the layout back to the host's flat angular momentum array
func (l Layout) InlL() []int {
	out := make([]int, 0, l.Inlmax())
	for iat := 0; iat < l.NAtoms; iat++ {
		out = append(out, l.ShellL...)
	}
	return out
}

// Equal reports whether two layouts describe the same index space
func (l Layout) Equal(o Layout) bool {
	if l.NAtoms != o.NAtoms || len(l.ShellL) != len(o.ShellL) {
		return false
	}
	for i := range l.ShellL {
		if l.ShellL[i] != o.ShellL[i] {
			return false
		}
	}
	return true
}
