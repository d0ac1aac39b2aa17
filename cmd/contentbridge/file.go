package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/CageChen/contentbridge/internal/form"
)

// File command flags
var (
	fileBridgeURL string
	fileMessage   string
	fileFrom      string
	fileCreate    bool
	fileYes       bool
)

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Load, save or delete a file through a running bridge",
	Long: `Drive the same load, save and delete steps as the web form from the
terminal. The bridge must be running; its address defaults to
http://localhost:<port>.

Examples:
  contentbridge file get acme/docs README.md
  contentbridge file put acme/docs README.md --from README.md -m "Fix typo"
  contentbridge file delete acme/docs old.md`,
}

var fileGetCmd = &cobra.Command{
	Use:   "get <owner>/<repo> <path>",
	Short: "Print a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runFileGet,
}

var filePutCmd = &cobra.Command{
	Use:   "put <owner>/<repo> <path>",
	Short: "Write a file from --from or stdin",
	Long: `Write a file. The current revision is loaded first so the save is
checked against it; pass --create for a file that does not exist yet.`,
	Args: cobra.ExactArgs(2),
	RunE: runFilePut,
}

var fileDeleteCmd = &cobra.Command{
	Use:   "delete <owner>/<repo> <path>",
	Short: "Delete a file after confirmation",
	Args:  cobra.ExactArgs(2),
	RunE:  runFileDelete,
}

func init() {
	fileCmd.PersistentFlags().StringVar(&fileBridgeURL, "bridge", "", "Bridge address (default http://localhost:<port>)")
	fileCmd.PersistentFlags().StringVarP(&fileMessage, "message", "m", "", "Commit message")

	filePutCmd.Flags().StringVarP(&fileFrom, "from", "f", "", "Read content from this file instead of stdin")
	filePutCmd.Flags().BoolVar(&fileCreate, "create", false, "Create the file without loading it first")

	fileDeleteCmd.Flags().BoolVarP(&fileYes, "yes", "y", false, "Skip the confirmation prompt")

	fileCmd.AddCommand(fileGetCmd)
	fileCmd.AddCommand(filePutCmd)
	fileCmd.AddCommand(fileDeleteCmd)
}

// newForm builds a form for "<owner>/<repo>" and path.
func newForm(cmd *cobra.Command, args []string) (*form.Form, error) {
	owner, repo, ok := strings.Cut(args[0], "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, errors.Errorf("expected <owner>/<repo>, got %q", args[0])
	}

	bridge := fileBridgeURL
	if bridge == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		bridge = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	f := form.New(bridge)
	f.Owner = owner
	f.Repo = repo
	f.Path = args[1]
	f.Message = fileMessage
	return f, nil
}

// report prints the form status to stderr and passes err through.
func report(f *form.Form, err error) error {
	if status := f.Status(); status != "" {
		fmt.Fprintln(os.Stderr, status)
	}
	return err
}

func runFileGet(cmd *cobra.Command, args []string) error {
	f, err := newForm(cmd, args)
	if err != nil {
		return err
	}
	if err := f.Load(cmd.Context()); err != nil {
		return report(f, err)
	}

	fmt.Fprint(cmd.OutOrStdout(), f.Content)
	return report(f, nil)
}

func runFilePut(cmd *cobra.Command, args []string) error {
	f, err := newForm(cmd, args)
	if err != nil {
		return err
	}

	content, err := readContent(cmd.InOrStdin())
	if err != nil {
		return err
	}

	if !fileCreate {
		if err := f.Load(cmd.Context()); err != nil {
			return report(f, err)
		}
	}

	f.Content = content
	return report(f, f.Save(cmd.Context()))
}

func runFileDelete(cmd *cobra.Command, args []string) error {
	f, err := newForm(cmd, args)
	if err != nil {
		return err
	}
	f.Confirm = confirmDelete
	if fileYes {
		f.Confirm = func(string) bool { return true }
	}

	if err := f.Load(cmd.Context()); err != nil {
		return report(f, err)
	}
	return report(f, f.Delete(cmd.Context()))
}

func readContent(stdin io.Reader) (string, error) {
	if fileFrom != "" {
		data, err := os.ReadFile(fileFrom)
		if err != nil {
			return "", errors.Wrapf(err, "read %s", fileFrom)
		}
		return string(data), nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", errors.Wrap(err, "read stdin")
	}
	return string(data), nil
}

// confirmDelete asks on the terminal. Any prompt error declines.
func confirmDelete(path string) bool {
	confirmed := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("Delete %s?", path),
		Default: false,
	}
	if err := survey.AskOne(prompt, &confirmed); err != nil {
		return false
	}
	return confirmed
}
