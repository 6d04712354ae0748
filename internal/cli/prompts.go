package cli

import (
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

// confirm asks a yes/no question. --yes answers it without prompting.
func confirm(cmd *cobra.Command, message string) (bool, error) {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true, nil
	}
	ok := false
	prompt := &survey.Confirm{
		Message: message,
		Default: false,
	}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// promptRequestToken reads the request_token from the Kite redirect URL.
func promptRequestToken() (string, error) {
	var token string
	prompt := &survey.Input{
		Message: "Paste the request_token value:",
		Help:    "After logging in you are redirected to a URL ending in ?request_token=XXXXXX&status=success",
	}
	err := survey.AskOne(prompt, &token, survey.WithValidator(func(val interface{}) error {
		if strings.TrimSpace(val.(string)) == "" {
			return fmt.Errorf("request token cannot be empty")
		}
		return nil
	}))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(token), nil
}
