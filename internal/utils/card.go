package utils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/Dan9191/bankcards/internal/models"
)

// CardNumberLength is the number of digits in a card number
const CardNumberLength = 16

var cardNumberPattern = regexp.MustCompile(`^[0-9]{16}$`)

// GenerateCardNumber generates a random 16-digit card number.
// Uniqueness is the caller's concern.
func GenerateCardNumber() (string, error) {
	var builder strings.Builder
	builder.Grow(CardNumberLength)

	buf := make([]byte, CardNumberLength)
	for builder.Len() < CardNumberLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random digits: %w", err)
		}
		for _, b := range buf {
			// 250 is the largest multiple of 10 below 256; rejecting above it keeps digits uniform
			if b >= 250 {
				continue
			}
			builder.WriteByte(b%10 + '0')
			if builder.Len() == CardNumberLength {
				break
			}
		}
	}

	return builder.String(), nil
}

// ValidateCardNumber checks that number is exactly 16 ASCII digits
func ValidateCardNumber(number string) error {
	if !cardNumberPattern.MatchString(number) {
		return fmt.Errorf("card number must be %d digits: %w", CardNumberLength, models.ErrInvalidArgument)
	}
	return nil
}

// MaskCardNumber hides all but the last four digits, e.g. "**** **** **** 1234"
func MaskCardNumber(number string) (string, error) {
	if len(number) < CardNumberLength {
		return "", fmt.Errorf("card number too short to mask: %d: %w", len(number), models.ErrInvalidArgument)
	}
	return strings.Repeat("**** ", 3) + number[len(number)-4:], nil
}

// CardCipher encrypts card numbers at rest.
//
// The IV is derived from an HMAC of the plaintext, so equal numbers encrypt to
// equal ciphertexts under one key. That lets uniqueness checks run against the
// stored column without decrypting it.
type CardCipher struct {
	block  cipher.Block
	macKey []byte
}

// NewCardCipher builds a cipher from a 16, 24 or 32 byte AES key
func NewCardCipher(key []byte) (*CardCipher, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes, got %d: %w", len(key), models.ErrEncryption)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %v: %w", err, models.ErrEncryption)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("card-number-iv"))

	return &CardCipher{block: block, macKey: mac.Sum(nil)}, nil
}

// NewCardCipherFromHex decodes a hex key and builds a cipher
func NewCardCipherFromHex(hexKey string) (*CardCipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %v: %w", err, models.ErrEncryption)
	}
	return NewCardCipher(key)
}

func (c *CardCipher) syntheticIV(plaintext []byte) []byte {
	h := hmac.New(sha256.New, c.macKey)
	h.Write(plaintext)
	return h.Sum(nil)[:aes.BlockSize]
}

// Encrypt encrypts a string using AES-CBC with PKCS#7 padding and returns hex(iv || ciphertext)
func (c *CardCipher) Encrypt(data string) (string, error) {
	dataBytes := []byte(data)
	iv := c.syntheticIV(dataBytes)

	// Add PKCS#5/PKCS#7 padding
	padding := aes.BlockSize - len(dataBytes)%aes.BlockSize
	dataBytes = append(dataBytes, bytes.Repeat([]byte{byte(padding)}, padding)...)

	ciphertext := make([]byte, len(dataBytes))
	mode := cipher.NewCBCEncrypter(c.block, iv)
	mode.CryptBlocks(ciphertext, dataBytes)

	final := append(append([]byte{}, iv...), ciphertext...)
	return hex.EncodeToString(final), nil
}

// Decrypt reverses Encrypt. Tampered or foreign ciphertext fails with ErrEncryption.
func (c *CardCipher) Decrypt(encryptedData string) (string, error) {
	data, err := hex.DecodeString(encryptedData)
	if err != nil {
		return "", fmt.Errorf("failed to decode hex: %v: %w", err, models.ErrEncryption)
	}

	if len(data) < 2*aes.BlockSize {
		return "", fmt.Errorf("encrypted data too short: %d bytes: %w", len(data), models.ErrEncryption)
	}

	iv := data[:aes.BlockSize]
	ciphertext := data[aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("invalid ciphertext length: %d bytes: %w", len(ciphertext), models.ErrEncryption)
	}

	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(c.block, iv)
	mode.CryptBlocks(plaintext, ciphertext)

	// Remove PKCS#5/PKCS#7 padding
	padding := int(plaintext[len(plaintext)-1])
	if padding > aes.BlockSize || padding == 0 {
		return "", fmt.Errorf("invalid padding value: %d: %w", padding, models.ErrEncryption)
	}
	for i := len(plaintext) - padding; i < len(plaintext); i++ {
		if int(plaintext[i]) != padding {
			return "", fmt.Errorf("invalid padding bytes at position %d: %w", i, models.ErrEncryption)
		}
	}
	plaintext = plaintext[:len(plaintext)-padding]

	if !hmac.Equal(iv, c.syntheticIV(plaintext)) {
		return "", fmt.Errorf("ciphertext authentication failed: %w", models.ErrEncryption)
	}

	return string(plaintext), nil
}
