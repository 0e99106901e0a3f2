package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chemcloud/calcstore/pkg/client"
)

func newMoleculeCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "molecule",
		Aliases: []string{"mol"},
		Short:   "Submit, inspect, and convert stored molecules",
	}
	cmd.AddCommand(
		newMoleculeCreateCommand(opts),
		newMoleculeGetCommand(opts),
		newMoleculeListCommand(opts),
		newMoleculeConvertCommand(opts),
		newMoleculeSimilarCommand(opts),
	)
	return cmd
}

func newMoleculeCreateCommand(opts *RootOptions) *cobra.Command {
	var (
		file   string
		data   string
		format string
		name   string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a structure, deduplicating on InChIKey",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (data == "") {
				return fmt.Errorf("exactly one of --file or --data is required")
			}
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				data = string(raw)
			}

			c, err := opts.Client()
			if err != nil {
				return err
			}
			mol, deduplicated, err := c.Molecules.Create(cmd.Context(), client.CreateMoleculeRequest{
				Data:   data,
				Format: format,
				Name:   name,
			})
			if err != nil {
				return err
			}

			if opts.JSONOutput {
				return printJSON(cmd.OutOrStdout(), mol)
			}
			if deduplicated {
				fmt.Fprintf(cmd.OutOrStdout(), "already stored as %s (%s)\n", mol.ID, mol.InChIKey)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", mol.ID, mol.InChIKey)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "structure file to submit")
	cmd.Flags().StringVar(&data, "data", "", "inline structure data (e.g. a SMILES string)")
	cmd.Flags().StringVar(&format, "format", "sdf", "structure format: sdf, xyz, pdb, inchi, smi, cjson")
	cmd.Flags().StringVar(&name, "name", "", "common name to store with the molecule")
	return cmd
}

func newMoleculeGetCommand(opts *RootOptions) *cobra.Command {
	var byInChIKey bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a molecule by ID or InChIKey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.Client()
			if err != nil {
				return err
			}

			var mol *client.Molecule
			if byInChIKey {
				mol, err = c.Molecules.GetByInChIKey(cmd.Context(), args[0])
			} else {
				mol, err = c.Molecules.Get(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			if opts.JSONOutput {
				return printJSON(cmd.OutOrStdout(), mol)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", mol.ID, mol.InChIKey, mol.Formula, mol.Name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&byInChIKey, "inchikey", false, "treat the argument as an InChIKey")
	return cmd
}

func newMoleculeListCommand(opts *RootOptions) *cobra.Command {
	var filter client.MoleculeFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored molecules",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.Client()
			if err != nil {
				return err
			}
			list, err := c.Molecules.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if opts.JSONOutput {
				return printJSON(cmd.OutOrStdout(), list)
			}
			for _, mol := range list.Items {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", mol.ID, mol.InChIKey, mol.Formula, mol.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total: %d\n", list.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Formula, "formula", "", "exact spaced formula, e.g. 'C 6 H 6'")
	cmd.Flags().StringVar(&filter.Element, "element", "", "require the given element symbol")
	cmd.Flags().StringVar(&filter.Search, "search", "", "substring match on name or InChI")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "page offset")
	return cmd
}

func newMoleculeConvertCommand(opts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "convert <id> <format>",
		Short: "Download a molecule in another structure format",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.Client()
			if err != nil {
				return err
			}
			data, err := c.Molecules.Convert(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			if output != "" {
				return os.WriteFile(output, data, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func newMoleculeSimilarCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "similar <id>",
		Short: "Find structurally similar molecules by fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.Client()
			if err != nil {
				return err
			}
			matches, err := c.Molecules.Similar(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			if opts.JSONOutput {
				return printJSON(cmd.OutOrStdout(), matches)
			}
			for _, m := range matches {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.3f\n", m.MoleculeID, m.Score)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of matches")
	return cmd
}
