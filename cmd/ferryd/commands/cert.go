package commands

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ferryfs/ferry/pkg/config"
)

var (
	certHosts []string
	certDays  int
	certForce bool
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Manage the server TLS certificate",
}

var certGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a self-signed TLS certificate",
	Long: `Generate a self-signed TLS certificate at the paths configured under
server.tls. Suitable for development and for clients that pin the server
certificate; production deployments should use a CA-issued certificate.

Examples:
  ferryd cert generate
  ferryd cert generate --host ferry.example.com --host 10.0.0.5 --days 730`,
	RunE: runCertGenerate,
}

func init() {
	certGenerateCmd.Flags().StringArrayVar(&certHosts, "host", []string{"localhost"}, "Hostname or IP to include in the certificate (repeatable)")
	certGenerateCmd.Flags().IntVar(&certDays, "days", 365, "Certificate validity in days")
	certGenerateCmd.Flags().BoolVar(&certForce, "force", false, "Overwrite existing certificate files")
	certCmd.AddCommand(certGenerateCmd)
}

func runCertGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	certFile := cfg.Server.TLS.CertFile
	keyFile := cfg.Server.TLS.KeyFile

	if !certForce {
		for _, path := range []string{certFile, keyFile} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "ferry", Organization: []string{"ferry"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Duration(certDays) * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range certHosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(certFile), 0755); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.MkdirAll(filepath.Dir(keyFile), 0755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}

	fmt.Printf("Certificate written to: %s\n", certFile)
	fmt.Printf("Private key written to: %s\n", keyFile)
	fmt.Printf("Valid for %d days, hosts: %v\n", certDays, certHosts)
	return nil
}
