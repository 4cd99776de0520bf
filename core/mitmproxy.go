package core

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"log" // Standard log package for goproxy.Logger config
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"headersmanager/logger"

	"github.com/elazarl/goproxy"
)

var (
	caCert *x509.Certificate
	caKey  *rsa.PrivateKey
)

// proxyRequestContextData is passed from the request to the response handler via ctx.UserData.
type proxyRequestContextData struct {
	Started      time.Time
	ResourceType string
	Matched      int
}

func setGoproxyCA(loadedGoproxyCa *tls.Certificate) {
	if loadedGoproxyCa == nil {
		logger.Fatal("setGoproxyCA called with nil certificate")
	}
	goproxy.GoproxyCa = *loadedGoproxyCa
	logger.ProxyInfo("goproxy CA configured.")
}

func GenerateAndSaveCA(certPath, keyPath string) error {
	localCaCert, localCaKey, err := generateCA("headersmanager MITM Proxy CA")
	if err != nil {
		logger.Error("Failed to generate CA: %v", err)
		return fmt.Errorf("failed to generate CA: %w", err)
	}

	for _, p := range []string{certPath, keyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
	}

	certOut, err := os.Create(certPath)
	if err != nil {
		logger.Error("Failed to open %s for writing: %v", certPath, err)
		return fmt.Errorf("failed to open %s for writing: %w", certPath, err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: localCaCert.Raw}); err != nil {
		logger.Error("Failed to write CA certificate to %s: %v", certPath, err)
		return fmt.Errorf("failed to write CA certificate to %s: %w", certPath, err)
	}
	logger.Info("CA certificate saved to %s", certPath)

	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		logger.Error("Failed to open %s for writing: %v", keyPath, err)
		return fmt.Errorf("failed to open %s for writing: %w", keyPath, err)
	}
	defer keyOut.Close()

	privBytes, err := x509.MarshalPKCS8PrivateKey(localCaKey)
	if err != nil {
		logger.ProxyInfo("Warning: could not marshal private key to PKCS8: %v. Trying PKCS1.", err)
		privBytes = x509.MarshalPKCS1PrivateKey(localCaKey)
		if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes}); err != nil {
			return fmt.Errorf("failed to write CA RSA private key to %s: %w", keyPath, err)
		}
	} else if err := pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}); err != nil {
		return fmt.Errorf("failed to write CA private key to %s: %w", keyPath, err)
	}
	logger.Info("CA private key saved to %s", keyPath)
	return nil
}

func loadCA(certPath, keyPath string) error {
	certPEMBlock, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file %s: %w", certPath, err)
	}
	certDERBlock, _ := pem.Decode(certPEMBlock)
	if certDERBlock == nil || certDERBlock.Type != "CERTIFICATE" {
		return fmt.Errorf("failed to decode CA certificate PEM block from %s", certPath)
	}
	loadedCaCert, err := x509.ParseCertificate(certDERBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse CA certificate from %s: %w", certPath, err)
	}

	keyPEMBlock, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("failed to read CA key file %s: %w", keyPath, err)
	}
	keyDERBlock, _ := pem.Decode(keyPEMBlock)
	if keyDERBlock == nil {
		return fmt.Errorf("failed to decode CA key PEM block from %s (key block is nil)", keyPath)
	}

	var parsedKey interface{}
	switch keyDERBlock.Type {
	case "PRIVATE KEY":
		parsedKey, err = x509.ParsePKCS8PrivateKey(keyDERBlock.Bytes)
	case "RSA PRIVATE KEY":
		parsedKey, err = x509.ParsePKCS1PrivateKey(keyDERBlock.Bytes)
	default:
		return fmt.Errorf("unknown CA key PEM block type '%s' from %s", keyDERBlock.Type, keyPath)
	}
	if err != nil {
		return fmt.Errorf("failed to parse CA private key from %s (type %s): %w", keyPath, keyDERBlock.Type, err)
	}

	loadedCaKey, ok := parsedKey.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("CA key from %s is not an RSA private key after parsing type %s", keyPath, keyDERBlock.Type)
	}
	caCert = loadedCaCert
	caKey = loadedCaKey

	logger.ProxyInfo("CA certificate and key loaded successfully.")
	return nil
}

func generateCA(commonName string) (*x509.Certificate, *rsa.PrivateKey, error) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate RSA private key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"headersmanager Development CA"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privKey.PublicKey, privKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse generated CA certificate: %w", err)
	}
	return cert, privKey, nil
}

// NewProxyServer builds a proxy that rewrites every request with the directives installed
// in table. HTTPS is intercepted with goproxy.GoproxyCa.
func NewProxyServer(table *RuleTable) *goproxy.ProxyHttpServer {
	proxy := goproxy.NewProxyHttpServer()
	proxy.Logger = log.New(io.Discard, "", 0)

	proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		logger.ProxyDebug("HandleConnect for session %d, host %s", ctx.Session, host)
		return &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: goproxy.TLSConfigFromCA(&goproxy.GoproxyCa)}, host
	}))

	proxy.OnRequest().DoFunc(
		func(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
			data := &proxyRequestContextData{Started: time.Now(), ResourceType: ResourceTypeOf(r)}
			data.Matched = table.Apply(r, data.ResourceType)
			ctx.UserData = data
			if data.Matched > 0 {
				logger.ProxyInfo("REQ: %s %s (%s) - %d directives applied", r.Method, r.URL.String(), data.ResourceType, data.Matched)
			} else {
				logger.ProxyDebug("REQ: %s %s (%s) - no directives", r.Method, r.URL.String(), data.ResourceType)
			}
			return r, nil
		})

	proxy.OnResponse().DoFunc(
		func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
			if ctx.Req == nil {
				return resp
			}
			if resp == nil {
				logger.ProxyError("RESP: Nil response for %s %s", ctx.Req.Method, ctx.Req.URL.String())
				return resp
			}
			if data, ok := ctx.UserData.(*proxyRequestContextData); ok {
				logger.ProxyDebug("RESP: %d for %s %s (Duration: %s)", resp.StatusCode, ctx.Req.Method, ctx.Req.URL.String(), time.Since(data.Started))
			}
			return resp
		})

	return proxy
}

func StartMitmProxy(port string, caCertPath string, caKeyPath string, table *RuleTable) error {
	if err := loadCA(caCertPath, caKeyPath); err != nil {
		return fmt.Errorf("could not load CA certificate/key: %w. Please run 'proxy init-ca' or check config.", err)
	}

	setGoproxyCA(&tls.Certificate{
		Certificate: [][]byte{caCert.Raw},
		PrivateKey:  caKey,
		Leaf:        caCert,
	})

	logger.ProxyInfo("MITM Proxy server starting on :%s", port)
	return http.ListenAndServe(":"+port, NewProxyServer(table))
}
