package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chemcloud/calcstore/pkg/client"
)

func newCalculationCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calculation",
		Aliases: []string{"calc"},
		Short:   "Submit and inspect calculation runs",
	}
	cmd.AddCommand(
		newCalculationSubmitCommand(opts),
		newCalculationGetCommand(opts),
		newCalculationListCommand(opts),
		newCalculationVibrationsCommand(opts),
		newCalculationCubeCommand(opts),
	)
	return cmd
}

func newCalculationSubmitCommand(opts *RootOptions) *cobra.Command {
	var req client.SubmitCalculationRequest

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Register a calculation against a stored molecule",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.Client()
			if err != nil {
				return err
			}
			calc, err := c.Calculations.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}

			if opts.JSONOutput {
				return printJSON(cmd.OutOrStdout(), calc)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted %s (%s)\n", calc.ID, calc.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.MoleculeID, "molecule", "", "molecule ID (required)")
	cmd.Flags().StringVar(&req.GeometryID, "geometry", "", "input geometry ID")
	cmd.Flags().StringSliceVar(&req.Tasks, "tasks", []string{"energy"},
		"tasks: energy, optimize, frequencies")
	cmd.Flags().StringVar(&req.Code, "code", "", "simulation program name")
	cmd.Flags().StringVar(&req.ImageName, "image", "", "container image of the job")
	cobra.CheckErr(cmd.MarkFlagRequired("molecule"))
	return cmd
}

func newCalculationGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a calculation by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.Client()
			if err != nil {
				return err
			}
			calc, err := c.Calculations.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if opts.JSONOutput {
				return printJSON(cmd.OutOrStdout(), calc)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%v\n", calc.ID, calc.Status, calc.Tasks)
			return nil
		},
	}
}

func newCalculationListCommand(opts *RootOptions) *cobra.Command {
	var filter client.CalculationFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List calculations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.Client()
			if err != nil {
				return err
			}
			list, err := c.Calculations.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if opts.JSONOutput {
				return printJSON(cmd.OutOrStdout(), list)
			}
			for _, calc := range list.Items {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%v\n",
					calc.ID, calc.Status, calc.MoleculeID, calc.Tasks)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total: %d\n", list.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.MoleculeID, "molecule", "", "filter by molecule ID")
	cmd.Flags().StringVar(&filter.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&filter.Task, "task", "", "filter by task name")
	cmd.Flags().StringVar(&filter.ImageName, "image", "", "filter by container image")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "page offset")
	return cmd
}

func newCalculationVibrationsCommand(opts *RootOptions) *cobra.Command {
	var mode int

	cmd := &cobra.Command{
		Use:   "vibrations <id>",
		Short: "Show vibrational modes of a completed calculation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.Client()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("mode") {
				vib, err := c.Calculations.VibrationMode(cmd.Context(), args[0], mode)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), vib)
			}

			vib, err := c.Calculations.Vibrations(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.JSONOutput {
				return printJSON(cmd.OutOrStdout(), vib)
			}
			for i, freq := range vib.Frequencies {
				modeNum := i
				if i < len(vib.Modes) {
					modeNum = vib.Modes[i]
				}
				intensity := 0.0
				if i < len(vib.Intensities) {
					intensity = vib.Intensities[i]
				}
				fmt.Fprintf(cmd.OutOrStdout(), "mode %d\t%.1f cm-1\t%.2f\n", modeNum, freq, intensity)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&mode, "mode", 0, "fetch a single mode by its mode number")
	return cmd
}

func newCalculationCubeCommand(opts *RootOptions) *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "cube <id> <mo>",
		Short: "Fetch an orbital cube (mo: index, homo, or lumo)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.Client()
			if err != nil {
				return err
			}
			doc, err := c.Calculations.Cube(cmd.Context(), args[0], args[1], async)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}

	cmd.Flags().BoolVar(&async, "async", false,
		"queue the computation and return a placeholder immediately")
	return cmd
}
