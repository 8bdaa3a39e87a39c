package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"cryptic-hunt-service/internal/domain"
	"github.com/spf13/cobra"
)

var errInvalidHunt = errors.New("hunt file has problems")

// NewValidateCmd checks hunt files without touching any database.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate hunt definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := false
			for _, path := range args {
				if !validateFile(cmd.OutOrStdout(), path) {
					failed = true
				}
			}
			if failed {
				return errInvalidHunt
			}
			return nil
		},
	}
}

func validateFile(out io.Writer, path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", path, err)
		return false
	}
	def, err := domain.ParseHuntDefinition(data)
	if err != nil {
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			return false
		}
		for _, problem := range verr.Problems {
			fmt.Fprintf(out, "%s: %s\n", path, problem)
		}
		return false
	}
	fmt.Fprintf(out, "%s: ok (%q, %d levels)\n", path, def.Name, len(def.Levels))
	return true
}
