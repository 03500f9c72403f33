package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zksecurity/vibenote/internal/store"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List files in the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, kvs, err := openStore()
		if err != nil {
			return err
		}
		defer kvs.Close()
		defer st.Close()

		metas, err := st.ListFiles()
		if err != nil {
			return err
		}
		for _, m := range metas {
			fmt.Printf("%-8s %s\n", m.Kind, m.Path)
		}
		return nil
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print file content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, kvs, err := openStore()
		if err != nil {
			return err
		}
		defer kvs.Close()
		defer st.Close()

		meta, ok, err := st.FindByPath(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no such file: %s", args[0])
		}
		doc, err := st.LoadFile(meta.ID)
		if err != nil {
			return err
		}
		if doc.Kind == store.KindPointer {
			remote, err := openRemote()
			if err != nil {
				return err
			}
			content, err := remote.ReadBlob(cmd.Context(), doc.PointerSha)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(content)
			return err
		}
		_, err = os.Stdout.Write(doc.Content)
		return err
	},
}

var newFile string

var newCmd = &cobra.Command{
	Use:   "new <path>",
	Short: "Create a file from stdin or --file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readInput()
		if err != nil {
			return err
		}

		st, kvs, err := openStore()
		if err != nil {
			return err
		}
		defer kvs.Close()
		defer st.Close()

		if _, err := st.CreateFile(args[0], content, store.KindText); err != nil {
			return err
		}
		fmt.Printf("created %s\n", args[0])
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <path>",
	Short: "Create or overwrite file content from stdin or --file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readInput()
		if err != nil {
			return err
		}

		st, kvs, err := openStore()
		if err != nil {
			return err
		}
		defer kvs.Close()
		defer st.Close()

		meta, ok, err := st.FindByPath(args[0])
		if err != nil {
			return err
		}
		if !ok {
			_, err := st.CreateFile(args[0], content, store.KindText)
			return err
		}
		return st.UpdateContent(meta.ID, content)
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <path> <newname>",
	Short: "Rename a file within its folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, kvs, err := openStore()
		if err != nil {
			return err
		}
		defer kvs.Close()
		defer st.Close()
		return st.RenameFile(args[0], args[1])
	},
}

var mvtoCmd = &cobra.Command{
	Use:   "mvto <path> <dir>",
	Short: "Move a file into another folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, kvs, err := openStore()
		if err != nil {
			return err
		}
		defer kvs.Close()
		defer st.Close()

		meta, ok, err := st.FindByPath(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no such file: %s", args[0])
		}
		return st.MoveFileToDir(meta.ID, args[1])
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, kvs, err := openStore()
		if err != nil {
			return err
		}
		defer kvs.Close()
		defer st.Close()
		return st.DeleteFile(args[0])
	},
}

func readInput() ([]byte, error) {
	if newFile != "" {
		content, err := os.ReadFile(newFile)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		return content, nil
	}
	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return content, nil
}

func init() {
	newCmd.Flags().StringVarP(&newFile, "file", "f", "", "read content from file instead of stdin")
	putCmd.Flags().StringVarP(&newFile, "file", "f", "", "read content from file instead of stdin")
	rootCmd.AddCommand(lsCmd, catCmd, newCmd, putCmd, mvCmd, mvtoCmd, rmCmd)
}
