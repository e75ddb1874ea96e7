package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/qterm/qterm/internal/trust"
)

func keygenCmd() *cobra.Command {
	var certOut, keyOut, commonName string
	var validDays int

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a long-lived TLS certificate and print its pinned fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, fp, err := trust.GenerateSelfSigned(commonName, time.Duration(validDays)*24*time.Hour)
			if err != nil {
				return fmt.Errorf("generate certificate: %w", err)
			}

			keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
			if err != nil {
				return fmt.Errorf("marshal private key: %w", err)
			}

			if err := writePEM(certOut, "CERTIFICATE", cert.Certificate[0]); err != nil {
				return fmt.Errorf("write %s: %w", certOut, err)
			}
			if err := writePEM(keyOut, "PRIVATE KEY", keyDER); err != nil {
				return fmt.Errorf("write %s: %w", keyOut, err)
			}

			fmt.Printf("wrote %s and %s\n", certOut, keyOut)
			fmt.Printf("fingerprint: %s\n", fp)
			fmt.Println("share this fingerprint with clients out-of-band; they pin it on first connect")
			return nil
		},
	}

	cmd.Flags().StringVar(&certOut, "cert-out", "qtermd.crt", "path to write the generated certificate")
	cmd.Flags().StringVar(&keyOut, "key-out", "qtermd.key", "path to write the generated private key")
	cmd.Flags().StringVar(&commonName, "common-name", "qtermd", "certificate common name")
	cmd.Flags().IntVar(&validDays, "valid-days", 10*365, "certificate validity period in days")
	return cmd
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}
