package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mfkiwl/abacus-develop/blocks"
	"github.com/mfkiwl/abacus-develop/model"
	"github.com/mfkiwl/abacus-develop/utils"
	"github.com/olekukonko/tablewriter"
	"github.com/pdevine/tensor"
)

var directions = [3]string{"x", "y", "z"}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	return table
}

func formatValues(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'e', 8, 64)
	}
	return strings.Join(parts, " ")
}

func renderDescriptors(w io.Writer, layout blocks.Layout, des [][]float64) {
	table := newTable(w, []string{"INL", "ATOM", "SHELL", "L", "EIGENVALUES"})
	for inl, d := range des {
		iat, nl := layout.Split(inl)
		table.Append([]string{
			strconv.Itoa(inl), strconv.Itoa(iat), strconv.Itoa(nl),
			strconv.Itoa(layout.ShellL[nl]), formatValues(d),
		})
	}
	table.Render()
}

func renderCorrection(w io.Writer, layout blocks.Layout, corr *model.Correction) {
	fmt.Fprintf(w, "E_delta = %.12e Ry\n", corr.EDelta)
	table := newTable(w, []string{"INL", "ATOM", "SHELL", "ROW", "GEDM"})
	for inl := 0; inl < layout.Inlmax(); inl++ {
		iat, nl := layout.Split(inl)
		nm := layout.Nm(nl)
		blk := corr.Gedm.Raw(inl)
		for m := 0; m < nm; m++ {
			table.Append([]string{
				strconv.Itoa(inl), strconv.Itoa(iat), strconv.Itoa(nl),
				strconv.Itoa(m), formatValues(blk[m*nm : (m+1)*nm]),
			})
		}
	}
	table.Render()
}

// renderGvx prints one row per (displaced atom, direction, atom)
func renderGvx(w io.Writer, gvx *tensor.Dense) error {
	shape := gvx.Shape()
	if len(shape) != 4 || shape[1] != 3 {
		return fmt.Errorf("gvx has shape %v", shape)
	}
	nat, des := shape[0], shape[3]
	data := utils.Float64s(gvx)
	table := newTable(w, []string{"DISPLACED", "DIR", "ATOM", "D(DESCRIPTOR)"})
	for b := 0; b < nat; b++ {
		for x := 0; x < 3; x++ {
			for a := 0; a < nat; a++ {
				off := ((b*3+x)*nat + a) * des
				table.Append([]string{
					strconv.Itoa(b), directions[x], strconv.Itoa(a),
					formatValues(data[off : off+des]),
				})
			}
		}
	}
	table.Render()
	return nil
}

func renderPrecalc(w io.Writer, op *tensor.Dense) error {
	shape := op.Shape()
	if len(shape) != 3 || shape[0] != 1 {
		return fmt.Errorf("orbital precalc has shape %v", shape)
	}
	nat, des := shape[1], shape[2]
	data := utils.Float64s(op)
	table := newTable(w, []string{"ATOM", "ORBITAL PRECALC"})
	for a := 0; a < nat; a++ {
		table.Append([]string{strconv.Itoa(a), formatValues(data[a*des : (a+1)*des])})
	}
	table.Render()
	return nil
}
