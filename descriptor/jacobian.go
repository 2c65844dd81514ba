package descriptor

import (
	"fmt"

	"github.com/mfkiwl/abacus-develop/blocks"
	"github.com/mfkiwl/abacus-develop/eigh"
	"github.com/mfkiwl/abacus-develop/utils"
	"github.com/pdevine/tensor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Jacobian builds gevdm, d(eigenvalue)/d(block entry), for every shell.
// Shell nl yields a (nat, nm, nm, nm) tensor indexed [atom][v][m][n].
//
// For each atom the retained block is replicated nm times, the replicas are
// decomposed as a batch, and the one-hot cotangent e_v is pulled back
// through replica v. The result is rebuilt on every call.
//
// Within a degenerate eigenvalue subspace the per-slot entries follow the
// eigensolver's basis; only their sum over the subspace is basis independent.
func (e *Engine) Jacobian(nat int) ([]*tensor.Dense, error) {
	if !e.Computed() {
		return nil, ErrNotComputed
	}
	if nat != e.layout.NAtoms {
		return nil, fmt.Errorf("%w: jacobian requested for %d atoms, descriptors hold %d",
			blocks.ErrShape, nat, e.layout.NAtoms)
	}

	nlmax := e.layout.NShells()
	gevdm := make([]*tensor.Dense, nlmax)

	var g errgroup.Group
	g.SetLimit(e.workers)
	for nl := 0; nl < nlmax; nl++ {
		g.Go(func() error {
			nm := e.layout.Nm(nl)
			stride := nm * nm * nm
			backing := make([]float64, nat*stride)
			for iat := 0; iat < nat; iat++ {
				inl := e.layout.Inl(iat, nl)
				jac, err := eigh.BatchJacobian(e.retained[inl].Input())
				if err != nil {
					return fmt.Errorf("jacobian of projector %d: %w", inl, err)
				}
				for v, jv := range jac {
					base := iat*stride + v*nm*nm
					for m := 0; m < nm; m++ {
						for n := 0; n < nm; n++ {
							backing[base+m*nm+n] = jv.At(m, n)
						}
					}
				}
			}
			gevdm[nl] = utils.NewTensor(backing, nat, nm, nm, nm)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("eigen-jacobian failed", zap.Error(err))
		return nil, err
	}
	return gevdm, nil
}
