package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, kvs, err := openStore()
		if err != nil {
			return err
		}
		defer kvs.Close()
		defer st.Close()
		return st.CreateFolder(args[0])
	},
}

var rmdirCmd = &cobra.Command{
	Use:   "rmdir <path>",
	Short: "Delete a folder and everything under it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, kvs, err := openStore()
		if err != nil {
			return err
		}
		defer kvs.Close()
		defer st.Close()
		return st.DeleteFolder(args[0])
	},
}

var mvdirCmd = &cobra.Command{
	Use:   "mvdir <path> <newname>",
	Short: "Rename a folder in place",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, kvs, err := openStore()
		if err != nil {
			return err
		}
		defer kvs.Close()
		defer st.Close()
		return st.RenameFolder(args[0], args[1])
	},
}

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List folders, explicit and implied",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, kvs, err := openStore()
		if err != nil {
			return err
		}
		defer kvs.Close()
		defer st.Close()

		folders, err := st.Folders()
		if err != nil {
			return err
		}
		for _, f := range folders {
			fmt.Println(f)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mkdirCmd, rmdirCmd, mvdirCmd, foldersCmd)
}
