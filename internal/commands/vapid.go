package commands

import (
	"fmt"
	"io"

	"pigeon/internal/notify"
)

// GenerateVAPIDKeys prints a fresh key pair in .env form.
func GenerateVAPIDKeys(out io.Writer) error {
	publicKey, privateKey, err := notify.GenerateKeys()
	if err != nil {
		return fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	_, _ = fmt.Fprintf(out, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", publicKey, privateKey)
	return nil
}
