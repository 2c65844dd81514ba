package main

import (
	"errors"
	"fmt"

	"github.com/mfkiwl/abacus-develop/comm"
	"github.com/mfkiwl/abacus-develop/config"
	"github.com/mfkiwl/abacus-develop/model"
	"github.com/mfkiwl/abacus-develop/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var descriptorsCmd = &cobra.Command{
	Use:   "descriptors",
	Short: "Print the eigenvalue descriptors of every projector",
	Args:  cobra.NoArgs,
	RunE:  runDescriptors,
}

var correctCmd = &cobra.Command{
	Use:   "correct",
	Short: "Evaluate the correction model: energy and PDM gradient",
	Args:  cobra.NoArgs,
	RunE:  runCorrect,
}

var gvxCmd = &cobra.Command{
	Use:   "gvx",
	Short: "Print the descriptor gradient with respect to atomic positions",
	Args:  cobra.NoArgs,
	RunE:  runGvx,
}

var precalcCmd = &cobra.Command{
	Use:   "precalc",
	Short: "Print the orbital precalc tensor from the orbital PDM shell",
	Args:  cobra.NoArgs,
	RunE:  runPrecalc,
}

// run is one loaded deck ready for a step
type run struct {
	deck   *config.Deck
	eval   *pipeline.Evaluation
	group  *comm.Group
	inputs pipeline.Inputs
}

func loadRun() (*run, error) {
	if cfg.Deck == "" {
		return nil, errors.New("no input deck: set deck in the config or pass --deck")
	}
	deck, err := config.LoadDeck(cfg.Deck)
	if err != nil {
		return nil, err
	}
	eval, err := pipeline.NewEvaluation(pipeline.Context{
		NAtoms:  deck.NAtoms,
		InlL:    deck.InlL,
		Logger:  logger,
		Workers: cfg.Workers,
	})
	if err != nil {
		return nil, err
	}
	group, err := comm.NewGroup(cfg.Ranks, comm.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	pdm, err := deck.Store()
	if err != nil {
		return nil, err
	}
	logger.Debug("deck loaded",
		zap.String("deck", cfg.Deck),
		zap.String("evaluation", eval.ID.String()),
		zap.Int("nat", deck.NAtoms))
	return &run{
		deck:   deck,
		eval:   eval,
		group:  group,
		inputs: pipeline.Inputs{PDM: pdm, Strategy: cfg.Strategy()},
	}, nil
}

func runDescriptors(cmd *cobra.Command, args []string) error {
	r, err := loadRun()
	if err != nil {
		return err
	}
	res, err := r.eval.Step(cmd.Context(), r.group, r.inputs)
	if err != nil {
		return err
	}
	renderDescriptors(cmd.OutOrStdout(), r.eval.Layout(), res.Descriptors)
	return nil
}

func runCorrect(cmd *cobra.Command, args []string) error {
	if cfg.Model == "" {
		return errors.New("no correction model: set model in the config or pass --model")
	}
	r, err := loadRun()
	if err != nil {
		return err
	}
	adapter := model.NewAdapter(logger)
	if err := adapter.Load(cfg.Model); err != nil {
		return err
	}
	r.inputs.Adapter = adapter
	res, err := r.eval.Step(cmd.Context(), r.group, r.inputs)
	if err != nil {
		return err
	}
	renderCorrection(cmd.OutOrStdout(), r.eval.Layout(), res.Correction)
	return nil
}

func runGvx(cmd *cobra.Command, args []string) error {
	r, err := loadRun()
	if err != nil {
		return err
	}
	pd, err := r.deck.PositionDerivatives()
	if err != nil {
		return err
	}
	if pd == nil {
		return fmt.Errorf("deck %s has no gdm section", cfg.Deck)
	}
	r.inputs.GDM = pd
	res, err := r.eval.Step(cmd.Context(), r.group, r.inputs)
	if err != nil {
		return err
	}
	return renderGvx(cmd.OutOrStdout(), res.Gvx)
}

func runPrecalc(cmd *cobra.Command, args []string) error {
	r, err := loadRun()
	if err != nil {
		return err
	}
	shell, err := r.deck.Shell()
	if err != nil {
		return err
	}
	sys, dm, err := r.deck.OverlapSystem()
	if err != nil {
		return err
	}
	if shell == nil && sys == nil {
		return fmt.Errorf("deck %s has neither orbital_shell nor overlap section", cfg.Deck)
	}
	r.inputs.Shell = shell
	r.inputs.Overlap = sys
	if dm != nil {
		r.inputs.DM = dm
	}
	res, err := r.eval.Step(cmd.Context(), r.group, r.inputs)
	if err != nil {
		return err
	}
	return renderPrecalc(cmd.OutOrStdout(), res.OrbitalPrecalc)
}
