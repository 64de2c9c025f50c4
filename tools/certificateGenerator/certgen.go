package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

type certOptions struct {
	org                string
	commonName         string
	organizationalUnit string
	ip                 string
	validFor           time.Duration
}

func main() {
	org := flag.String("org", "", "Organization name")
	commonName := flag.String("cn", "", "Common name (domain)")
	organizationalUnit := flag.String("on", "", "Organizational unit")
	ip := flag.String("ip", "", "IP address")
	hostName := flag.String("name", "", "Host name. Files will be saved as {name}-key.pem and {name}-cert.pem")
	flag.Parse()

	if *org == "" || *commonName == "" || *ip == "" || *organizationalUnit == "" || *hostName == "" {
		flag.Usage()
		os.Exit(1)
	}

	certPEM, keyPEM, err := generate(certOptions{
		org:                *org,
		commonName:         *commonName,
		organizationalUnit: *organizationalUnit,
		ip:                 *ip,
		validFor:           365 * 24 * time.Hour,
	})
	if err != nil {
		fmt.Println("error generating certificate:", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*hostName+"-cert.pem", certPEM, 0644); err != nil {
		fmt.Println("error writing certificate:", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*hostName+"-key.pem", keyPEM, 0600); err != nil {
		fmt.Println("error writing private key:", err)
		os.Exit(1)
	}
}

// generate returns a self-signed server certificate and its PKCS #8 key,
// both PEM encoded.
func generate(opts certOptions) (certPEM, keyPEM []byte, err error) {
	ip := net.ParseIP(opts.ip)
	if ip == nil {
		return nil, nil, fmt.Errorf("invalid IP address %q", opts.ip)
	}
	if opts.validFor <= 0 {
		return nil, nil, errors.New("validity must be positive")
	}

	notBefore := time.Now()
	notAfter := notBefore.Add(opts.validFor)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization:       []string{opts.org},
			OrganizationalUnit: []string{opts.organizationalUnit},
			CommonName:         opts.commonName,
		},
		NotBefore:   notBefore,
		NotAfter:    notAfter,
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: []net.IP{ip},
		DNSNames:    []string{opts.commonName},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	return certPEM, keyPEM, nil
}
