package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Functions

// BootstrapCertTempl returns a certificate template that
// has all default values for our certificates already set.
func BootstrapCertTempl(nBef time.Time, nAft time.Time) (*x509.Certificate, error) {

	// For serial number generation we need a biggest
	// number to mark the range of the serial number.
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)

	// Now generate that random number.
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, errors.Wrap(err, "could not generate random serial number")
	}

	// Build a default template we use for each certificate.
	certificateTemplate := &x509.Certificate{
		SignatureAlgorithm:    x509.SHA512WithRSA,
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"orset internal PKI"}},
		NotBefore:             nBef,
		NotAfter:              nAft,
		BasicConstraintsValid: true,
	}

	return certificateTemplate, nil
}

// CreateRootCert generates the root key pair and the
// self-signed root certificate, stores both as
// root-cert.pem and root-key.pem in dir and returns
// them for signing replica certificates.
func CreateRootCert(dir string, rsaBits int, nBef time.Time, nAft time.Time) (*x509.Certificate, *rsa.PrivateKey, error) {

	// Generate root key pair.
	rootKey, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to generate root key")
	}

	// Prepare to create the root certificate which will
	// be used to sign internally used certificates.
	rootTemplate, err := BootstrapCertTempl(nBef, nAft)
	if err != nil {
		return nil, nil, err
	}

	// Set specific certificate values for a root certificate.
	rootTemplate.IsCA = true
	rootTemplate.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign
	rootTemplate.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}

	// Create the actual root certificate.
	rootCertDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create DER byte representation of root certificate")
	}

	// Parse root certificate again so that we can sign with it.
	rootCert, err := x509.ParseCertificate(rootCertDER)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to parse DER root certificate to x509 certificate")
	}

	err = writePEM(filepath.Join(dir, "root-cert.pem"), "CERTIFICATE", rootCertDER, 0644)
	if err != nil {
		return nil, nil, err
	}

	err = writePEM(filepath.Join(dir, "root-key.pem"), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rootKey), 0600)
	if err != nil {
		return nil, nil, err
	}

	return rootCert, rootKey, nil
}

// CreateReplicaCert performs all needed actions in order
// to obtain a replica's key pair and certificate signed by
// the root certificate. They are stored as <name>-cert.pem
// and <name>-key.pem in dir. hosts may contain IP addresses
// and DNS names the replica is reachable under.
func CreateReplicaCert(dir string, name string, rsaBits int, nBef time.Time, nAft time.Time, hosts []string, rootCert *x509.Certificate, rootKey *rsa.PrivateKey) error {

	// Generate this replica's key pair.
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return errors.Wrapf(err, "failed to generate key for %s", name)
	}

	// Fetch a new certificate template.
	template, err := BootstrapCertTempl(nBef, nAft)
	if err != nil {
		return err
	}

	// Set specific certificate values for a normal replica certificate.
	template.Subject.CommonName = name
	template.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}

	for _, host := range hosts {

		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if host != "" {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	// Create the actual replica certificate.
	certDER, err := x509.CreateCertificate(rand.Reader, template, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		return errors.Wrapf(err, "failed to create DER byte representation of certificate for %s", name)
	}

	err = writePEM(filepath.Join(dir, name+"-cert.pem"), "CERTIFICATE", certDER, 0644)
	if err != nil {
		return err
	}

	return writePEM(filepath.Join(dir, name+"-key.pem"), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0600)
}

// writePEM encodes bytes as PEM block of type
// blockType and syncs it to the file at path.
func writePEM(path string, blockType string, bytes []byte, perm os.FileMode) error {

	file, err := os.OpenFile(path, (os.O_WRONLY | os.O_CREATE | os.O_TRUNC), perm)
	if err != nil {
		return errors.Wrapf(err, "failed to open file %s", path)
	}
	defer file.Close()

	// Encode it in PEM format and save to disk.
	err = pem.Encode(file, &pem.Block{Type: blockType, Bytes: bytes})
	if err != nil {
		return errors.Wrapf(err, "failed to write %s in PEM format to disk", path)
	}

	return file.Sync()
}
