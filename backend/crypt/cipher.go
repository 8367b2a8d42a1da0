package crypt

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/backend/crypt/pkcs7"
	"github.com/rfjakob/eme"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// Constants
const (
	nameCipherBlockSize = aes.BlockSize
	fileMagic           = "RCLONE\x00\x00"
	fileMagicSize       = len(fileMagic)
	fileNonceSize       = 24
	fileHeaderSize      = fileMagicSize + fileNonceSize
	blockHeaderSize     = secretbox.Overhead
	blockDataSize       = 64 * 1024
	blockSize           = blockHeaderSize + blockDataSize
	encryptedSuffix     = ".bin" // when file name encryption is off
	maxNameCiphertext   = 2048
)

// Errors returned by cipher
var (
	ErrorBadDecryptUTF8          = errors.New("bad decryption - utf-8 invalid")
	ErrorBadDecryptControlChar   = errors.New("bad decryption - contains control chars")
	ErrorNotAMultipleOfBlocksize = errors.New("not a multiple of blocksize")
	ErrorTooShortAfterDecode     = errors.New("too short after base32 decode")
	ErrorTooLongAfterDecode      = errors.New("too long after base32 decode")
	ErrorEncryptedFileTooShort   = errors.New("file is too short to be encrypted")
	ErrorEncryptedFileBadHeader  = errors.New("file has truncated block header")
	ErrorEncryptedBadMagic       = errors.New("not an encrypted file - bad magic string")
	ErrorEncryptedBadBlock       = errors.New("failed to authenticate decrypted block - bad password?")
	ErrorNotAnEncryptedFile      = errors.New("not an encrypted file - does not match suffix")
	ErrorBadSeek                 = errors.New("seek beyond end of file")
	defaultSalt                  = []byte{0xA8, 0x0D, 0xF4, 0x3A, 0x8F, 0xBD, 0x03, 0x08, 0xA7, 0xCA, 0xB8, 0x3E, 0x58, 0x1F, 0x86, 0xB1}
)

// NameEncryptionMode is the type of file name encryption in use
type NameEncryptionMode int

// NameEncryptionMode values
const (
	NameEncryptionOff NameEncryptionMode = iota
	NameEncryptionStandard
)

// NewNameEncryptionMode turns a string into a NameEncryptionMode
func NewNameEncryptionMode(s string) (NameEncryptionMode, error) {
	switch strings.ToLower(s) {
	case "off":
		return NameEncryptionOff, nil
	case "standard", "":
		return NameEncryptionStandard, nil
	}
	return NameEncryptionStandard, errors.Errorf("unknown file name encryption mode %q", s)
}

// String turns mode into a human-readable string
func (mode NameEncryptionMode) String() string {
	if mode == NameEncryptionOff {
		return "off"
	}
	return "standard"
}

// fileNameEncoding are the encoding methods dealing with encrypted
// file names
type fileNameEncoding interface {
	EncodeToString(src []byte) string
	DecodeString(s string) ([]byte, error)
}

// caseInsensitiveBase32Encoding defines a file name encoding using a
// modified version of standard base32 as described in RFC4648. The
// padding is dropped and the output is lower case so it survives
// case insensitive storage.
type caseInsensitiveBase32Encoding struct{}

// EncodeToString encodes a string using the modified version of
// base32 encoding.
func (caseInsensitiveBase32Encoding) EncodeToString(src []byte) string {
	encoded := base32.HexEncoding.EncodeToString(src)
	encoded = strings.TrimRight(encoded, "=")
	return strings.ToLower(encoded)
}

// DecodeString decodes a string as encoded by EncodeToString
func (caseInsensitiveBase32Encoding) DecodeString(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return nil, errors.New("bad base32 filename encoding")
	}
	// First figure out how many padding characters to add
	roundUpToMultipleOf8 := (len(s) + 7) &^ 7
	equals := roundUpToMultipleOf8 - len(s)
	s = strings.ToUpper(s) + "========"[:equals]
	return base32.HexEncoding.DecodeString(s)
}

// NewNameEncoding creates a NameEncoding from a string
func NewNameEncoding(s string) (fileNameEncoding, error) {
	switch strings.ToLower(s) {
	case "base32", "":
		return caseInsensitiveBase32Encoding{}, nil
	case "base64":
		return base64.RawURLEncoding, nil
	}
	return nil, errors.Errorf("unknown file name encoding mode %q", s)
}

// Cipher encrypts and decrypts names and file contents
type Cipher struct {
	dataKey        [32]byte                  // Key for secretbox
	nameKey        [32]byte                  // 16,24 or 32 bytes
	nameTweak      [nameCipherBlockSize]byte // used to tweak the name crypto
	block          gocipher.Block
	mode           NameEncryptionMode
	fileNameEnc    fileNameEncoding
	cryptoRand     io.Reader // read crypto random numbers from here
	dirNameEncrypt bool
}

// newCipher initialises the cipher. If salt is "" then it uses a
// built in salt value.
func newCipher(mode NameEncryptionMode, password, salt string, dirNameEncrypt bool, enc fileNameEncoding) (*Cipher, error) {
	c := &Cipher{
		mode:           mode,
		fileNameEnc:    enc,
		cryptoRand:     rand.Reader,
		dirNameEncrypt: dirNameEncrypt,
	}
	if err := c.Key(password, salt); err != nil {
		return nil, err
	}
	return c, nil
}

// Key creates all the internal keys from the password passed in using
// scrypt.
//
// An empty password makes all 0x00 keys.
func (c *Cipher) Key(password, salt string) (err error) {
	const keySize = len(c.dataKey) + len(c.nameKey) + len(c.nameTweak)
	saltBytes := defaultSalt
	if salt != "" {
		saltBytes = []byte(salt)
	}
	var key []byte
	if password == "" {
		key = make([]byte, keySize)
	} else {
		key, err = scrypt.Key([]byte(password), saltBytes, 16384, 8, 1, keySize)
		if err != nil {
			return err
		}
	}
	copy(c.dataKey[:], key)
	copy(c.nameKey[:], key[len(c.dataKey):])
	copy(c.nameTweak[:], key[len(c.dataKey)+len(c.nameKey):])
	c.block, err = aes.NewCipher(c.nameKey[:])
	return err
}

// encryptSegment encrypts a path segment
//
// This uses EME with AES, a wide block mode, so the same name always
// encrypts to the same thing and names which start the same don't
// share a prefix.
func (c *Cipher) encryptSegment(plaintext string) string {
	if plaintext == "" {
		return ""
	}
	paddedPlaintext := pkcs7.Pad(nameCipherBlockSize, []byte(plaintext))
	ciphertext := eme.Transform(c.block, c.nameTweak[:], paddedPlaintext, eme.DirectionEncrypt)
	return c.fileNameEnc.EncodeToString(ciphertext)
}

// decryptSegment decrypts a path segment
func (c *Cipher) decryptSegment(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	rawCiphertext, err := c.fileNameEnc.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	switch {
	case len(rawCiphertext) == 0:
		return "", ErrorTooShortAfterDecode
	case len(rawCiphertext)%nameCipherBlockSize != 0:
		return "", ErrorNotAMultipleOfBlocksize
	case len(rawCiphertext) > maxNameCiphertext:
		return "", ErrorTooLongAfterDecode
	}
	paddedPlaintext := eme.Transform(c.block, c.nameTweak[:], rawCiphertext, eme.DirectionDecrypt)
	plaintext, err := pkcs7.Unpad(nameCipherBlockSize, paddedPlaintext)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		return "", ErrorBadDecryptUTF8
	}
	for _, r := range string(plaintext) {
		if r < 0x20 || r == 0x7f {
			return "", ErrorBadDecryptControlChar
		}
	}
	return string(plaintext), nil
}

// EncryptFileName encrypts a file name
func (c *Cipher) EncryptFileName(name string) string {
	if c.mode == NameEncryptionOff {
		return name + encryptedSuffix
	}
	return c.encryptSegment(name)
}

// EncryptDirName encrypts a folder name
func (c *Cipher) EncryptDirName(name string) string {
	if c.mode == NameEncryptionOff || !c.dirNameEncrypt {
		return name
	}
	return c.encryptSegment(name)
}

// DecryptFileName decrypts a file name
func (c *Cipher) DecryptFileName(name string) (string, error) {
	if c.mode == NameEncryptionOff {
		if len(name) <= len(encryptedSuffix) || !strings.HasSuffix(name, encryptedSuffix) {
			return "", ErrorNotAnEncryptedFile
		}
		return name[:len(name)-len(encryptedSuffix)], nil
	}
	return c.decryptSegment(name)
}

// DecryptDirName decrypts a folder name
func (c *Cipher) DecryptDirName(name string) (string, error) {
	if c.mode == NameEncryptionOff || !c.dirNameEncrypt {
		return name, nil
	}
	return c.decryptSegment(name)
}

// nonce is a NACL secretbox nonce, counted up by one for each block
type nonce [fileNonceSize]byte

// pointer returns the nonce as a *[24]byte for secretbox
func (n *nonce) pointer() *[fileNonceSize]byte {
	return (*[fileNonceSize]byte)(n)
}

// add adds x to the nonce treating it as a little endian number
func (n *nonce) add(x uint64) {
	carry := uint16(0)
	for i := 0; i < fileNonceSize; i++ {
		digit := uint16(n[i]) + carry
		if i < 8 {
			digit += uint16(x & 0xff)
			x >>= 8
		}
		n[i] = byte(digit)
		carry = digit >> 8
		if carry == 0 && x == 0 && i >= 8 {
			break
		}
	}
}

// blockNonce returns the nonce of block i of a file starting at n
func (n nonce) blockNonce(i int64) *[fileNonceSize]byte {
	n.add(uint64(i))
	return n.pointer()
}

// EncryptedSize returns the size of the encrypted file for a
// plaintext of size bytes
func (c *Cipher) EncryptedSize(size int64) int64 {
	blocks, residue := size/blockDataSize, size%blockDataSize
	encryptedSize := int64(fileHeaderSize) + blocks*blockSize
	if residue != 0 {
		encryptedSize += blockHeaderSize + residue
	}
	return encryptedSize
}

// DecryptedSize returns the plaintext size of an encrypted file of
// size bytes
func (c *Cipher) DecryptedSize(size int64) (int64, error) {
	size -= int64(fileHeaderSize)
	if size < 0 {
		return 0, ErrorEncryptedFileTooShort
	}
	blocks, residue := size/blockSize, size%blockSize
	decryptedSize := blocks * blockDataSize
	if residue != 0 {
		residue -= blockHeaderSize
		if residue <= 0 {
			return 0, ErrorEncryptedFileBadHeader
		}
	}
	return decryptedSize + residue, nil
}

// plainOffset returns how much plaintext precedes the encrypted
// offset
func (c *Cipher) plainOffset(offset int64) int64 {
	offset -= int64(fileHeaderSize)
	if offset <= 0 {
		return 0
	}
	blocks, residue := offset/blockSize, offset%blockSize-blockHeaderSize
	if residue < 0 {
		residue = 0
	}
	return blocks*blockDataSize + residue
}

// encrypter is the encrypted form of a plaintext io.ReadSeeker. It
// can be rewound and read again with the same nonce which makes
// retried uploads send identical bytes.
type encrypter struct {
	c      *Cipher
	in     io.ReadSeeker
	size   int64 // plaintext size
	total  int64 // encrypted size
	nonce  nonce
	pos    int64  // encrypted offset of the next Read
	seg    int64  // segment held in buf, -1 for the header, -2 for none
	buf    []byte // the encrypted segment
	plain  []byte
	header []byte
}

// newEncrypter encrypts the size bytes from the start of in
func (c *Cipher) newEncrypter(in io.ReadSeeker, size int64) (*encrypter, error) {
	e := &encrypter{
		c:     c,
		in:    in,
		size:  size,
		total: c.EncryptedSize(size),
		seg:   -2,
		plain: make([]byte, blockDataSize),
	}
	if _, err := io.ReadFull(c.cryptoRand, e.nonce[:]); err != nil {
		return nil, errors.Wrap(err, "failed to make nonce")
	}
	e.header = append([]byte(fileMagic), e.nonce[:]...)
	return e, nil
}

// load makes buf hold the segment containing pos returning the
// segment's encrypted offset
func (e *encrypter) load() (int64, error) {
	if e.pos < int64(fileHeaderSize) {
		e.seg = -1
		e.buf = e.header
		return 0, nil
	}
	block := (e.pos - int64(fileHeaderSize)) / blockSize
	start := int64(fileHeaderSize) + block*blockSize
	if block == e.seg {
		return start, nil
	}
	if _, err := e.in.Seek(block*blockDataSize, io.SeekStart); err != nil {
		return 0, errors.Wrap(err, "failed to seek plaintext")
	}
	n := int64(blockDataSize)
	if left := e.size - block*blockDataSize; left < n {
		n = left
	}
	if _, err := io.ReadFull(e.in, e.plain[:n]); err != nil {
		return 0, errors.Wrap(err, "failed to read plaintext")
	}
	e.buf = secretbox.Seal(e.buf[:0:0], e.plain[:n], e.nonce.blockNonce(block), &e.c.dataKey)
	e.seg = block
	return start, nil
}

// Read reads encrypted bytes
func (e *encrypter) Read(p []byte) (n int, err error) {
	for n < len(p) && e.pos < e.total {
		start, err := e.load()
		if err != nil {
			return n, err
		}
		copied := copy(p[n:], e.buf[e.pos-start:])
		n += copied
		e.pos += int64(copied)
	}
	if n == 0 && e.pos >= e.total {
		return 0, io.EOF
	}
	return n, nil
}

// Seek moves the encrypted offset
func (e *encrypter) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekCurrent:
		offset += e.pos
	case io.SeekEnd:
		offset += e.total
	}
	if offset < 0 || offset > e.total {
		return e.pos, ErrorBadSeek
	}
	e.pos = offset
	return offset, nil
}

// decrypter decrypts whatever is written to it into out
type decrypter struct {
	c         *Cipher
	out       io.Writer
	buf       []byte
	nonce     nonce
	gotHeader bool
	block     int64
	plain     []byte
	err       error
}

// newDecrypter returns a writer decrypting into out. Close must be
// called after the last write.
func (c *Cipher) newDecrypter(out io.Writer) *decrypter {
	return &decrypter{
		c:     c,
		out:   out,
		buf:   make([]byte, 0, blockSize),
		plain: make([]byte, 0, blockDataSize),
	}
}

// open decrypts one block and writes it on
func (d *decrypter) open(block []byte) error {
	plain, ok := secretbox.Open(d.plain[:0], block, d.nonce.blockNonce(d.block), &d.c.dataKey)
	if !ok {
		return ErrorEncryptedBadBlock
	}
	d.block++
	_, err := d.out.Write(plain)
	return err
}

// Write decrypts every complete block in p
func (d *decrypter) Write(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	n := len(p)
	for len(p) > 0 {
		want := blockSize
		if !d.gotHeader {
			want = fileHeaderSize
		}
		take := want - len(d.buf)
		if take > len(p) {
			take = len(p)
		}
		d.buf = append(d.buf, p[:take]...)
		p = p[take:]
		if len(d.buf) < want {
			break
		}
		if !d.gotHeader {
			if string(d.buf[:fileMagicSize]) != fileMagic {
				d.err = ErrorEncryptedBadMagic
				return 0, d.err
			}
			copy(d.nonce[:], d.buf[fileMagicSize:])
			d.gotHeader = true
		} else if d.err = d.open(d.buf); d.err != nil {
			return 0, d.err
		}
		d.buf = d.buf[:0]
	}
	return n, nil
}

// Close decrypts the final partial block
func (d *decrypter) Close() error {
	switch {
	case d.err != nil:
		return d.err
	case !d.gotHeader:
		d.err = ErrorEncryptedFileTooShort
	case len(d.buf) == 0:
	case len(d.buf) <= blockHeaderSize:
		d.err = ErrorEncryptedFileBadHeader
	default:
		d.err = d.open(d.buf)
		d.buf = d.buf[:0]
	}
	return d.err
}
