package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
)

// MinRSABits is the smallest modulus accepted for identity keys.
const MinRSABits = 2048

// GenerateRSA returns a fresh RSA key pair of the given size.
func GenerateRSA(bits int) (*rsa.PrivateKey, error) {
	if bits < MinRSABits {
		return nil, fmt.Errorf("rsa key size %d below minimum %d", bits, MinRSABits)
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

// MarshalPrivateKey encodes priv as PKCS#8 DER.
func MarshalPrivateKey(priv *rsa.PrivateKey) ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(priv)
}

// ParsePrivateKey decodes a PKCS#8 DER RSA private key.
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	priv, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", k)
	}
	return priv, nil
}

// MarshalPublicKey encodes pub as PKIX DER.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}

// ParsePublicKey decodes a PKIX DER RSA public key.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	k, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pub, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", k)
	}
	if pub.N.BitLen() < MinRSABits {
		return nil, fmt.Errorf("rsa public key size %d below minimum %d", pub.N.BitLen(), MinRSABits)
	}
	return pub, nil
}

// WrapOAEP encrypts msg to pub with RSA-OAEP/SHA-256, binding label.
func WrapOAEP(pub *rsa.PublicKey, msg, label []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, msg, label)
}

// UnwrapOAEP reverses WrapOAEP.
func UnwrapOAEP(priv *rsa.PrivateKey, ct, label []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ct, label)
}
