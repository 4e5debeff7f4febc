package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	voucherDomainName    = "PoolbetCustody"
	voucherDomainVersion = "1"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	payoutVoucherTypeHash = ethcrypto.Keccak256(
		[]byte("PayoutVoucher(string payoutId,uint256 marketId,string bettor,uint256 amount)"),
	)
)

// Voucher authorizes the custody executor to release Amount base units of
// market MarketID to Bettor. PayoutID makes redemption idempotent.
type Voucher struct {
	PayoutID string `json:"payout_id"`
	MarketID uint64 `json:"market_id"`
	Bettor   string `json:"bettor"`
	Amount   uint64 `json:"amount"`
}

// Signer signs payout vouchers as EIP-712 typed data with the operator key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 key for the given
// chain id.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep: ethcrypto.Keccak256(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(voucherDomainName)),
			ethcrypto.Keccak256([]byte(voucherDomainVersion)),
			uint256Bytes(big.NewInt(chainID)),
		),
	}, nil
}

// Address returns the operator address vouchers are signed by.
func (s *Signer) Address() common.Address {
	return s.address
}

// Digest returns the EIP-712 digest of v under the signer's domain.
func (s *Signer) Digest(v Voucher) []byte {
	structHash := ethcrypto.Keccak256(
		payoutVoucherTypeHash,
		ethcrypto.Keccak256([]byte(v.PayoutID)),
		uint256Bytes(new(big.Int).SetUint64(v.MarketID)),
		ethcrypto.Keccak256([]byte(v.Bettor)),
		uint256Bytes(new(big.Int).SetUint64(v.Amount)),
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, s.domainSep, structHash)
}

// Sign returns the hex-encoded 65-byte signature (r || s || v, v in {27, 28}).
func (s *Signer) Sign(v Voucher) (string, error) {
	sig, err := ethcrypto.Sign(s.Digest(v), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing voucher %s: %w", v.PayoutID, err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner returns the address that produced sigHex over v. The custody
// executor uses it to check a voucher before releasing funds.
func (s *Signer) RecoverSigner(v Voucher, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decoding signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(s.Digest(v), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recovering key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// uint256Bytes returns the 32-byte big-endian encoding of n.
func uint256Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}
