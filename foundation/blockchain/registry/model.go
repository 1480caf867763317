package registry

// ABIParam describes an input or output of a contract method.
type ABIParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ABIEntry describes a single contract method or event.
type ABIEntry struct {
	Name            string     `json:"name" validate:"required"`
	Type            string     `json:"type" validate:"required,oneof=function event constructor"`
	Inputs          []ABIParam `json:"inputs"`
	Outputs         []ABIParam `json:"outputs,omitempty"`
	StateMutability string     `json:"stateMutability,omitempty"`
}

// ContractSpec is the information required to deploy a contract.
type ContractSpec struct {
	Name  string     `json:"name" validate:"required"`
	Code  string     `json:"code"`
	ABI   []ABIEntry `json:"abi" validate:"dive"`
	Owner string     `json:"owner" validate:"required"`
}

// Contract is a deployed contract. The code is recorded, never executed.
type Contract struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Code      string         `json:"code"`
	ABI       []ABIEntry     `json:"abi"`
	Owner     string         `json:"owner"`
	CreatedAt int64          `json:"createdAt"`
	State     map[string]any `json:"state"`
	Balance   float64        `json:"balance"`
}

// Call is a request to call a contract method.
type Call struct {
	ContractID string  `json:"contractId" validate:"required"`
	Method     string  `json:"method" validate:"required"`
	Params     []any   `json:"params"`
	Caller     string  `json:"caller" validate:"required"`
	Value      float64 `json:"value" validate:"gte=0"`
}

// CallResult describes a recorded contract call.
type CallResult struct {
	ContractID    string `json:"contractId"`
	Method        string `json:"method"`
	TransactionID string `json:"transactionId"`
}

// =============================================================================

// Set of NFT rarities.
const (
	RarityCommon    = "common"
	RarityUncommon  = "uncommon"
	RarityRare      = "rare"
	RarityEpic      = "epic"
	RarityLegendary = "legendary"
)

// Attribute is a single NFT trait.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// Metadata describes an NFT.
type Metadata struct {
	Name         string      `json:"name" validate:"required"`
	Description  string      `json:"description"`
	Image        string      `json:"image"`
	Attributes   []Attribute `json:"attributes"`
	ExternalURL  string      `json:"external_url,omitempty"`
	AnimationURL string      `json:"animation_url,omitempty"`
}

// CollectionSpec is the information required to create a collection.
type CollectionSpec struct {
	Name        string `json:"name" validate:"required"`
	Symbol      string `json:"symbol" validate:"required"`
	Description string `json:"description"`
	Owner       string `json:"owner" validate:"required"`
	MaxSupply   int    `json:"maxSupply" validate:"gt=0"`
	BaseURI     string `json:"baseURI"`
}

// Collection is a named group of NFTs with a bounded supply.
type Collection struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Owner       string `json:"owner"`
	TotalSupply int    `json:"totalSupply"`
	MaxSupply   int    `json:"maxSupply"`
	BaseURI     string `json:"baseURI"`
	CreatedAt   int64  `json:"createdAt"`
}

// NFTSpec is the information required to mint an NFT. An empty rarity is
// drawn at random.
type NFTSpec struct {
	CollectionID string   `json:"collectionId" validate:"required"`
	Owner        string   `json:"owner" validate:"required"`
	Metadata     Metadata `json:"metadata"`
	Rarity       string   `json:"rarity" validate:"omitempty,oneof=common uncommon rare epic legendary"`
}

// NFT is a minted token.
type NFT struct {
	ID               string   `json:"id"`
	TokenID          int      `json:"tokenId"`
	ContractAddress  string   `json:"contractAddress"`
	Owner            string   `json:"owner"`
	Metadata         Metadata `json:"metadata"`
	CreatedAt        int64    `json:"createdAt"`
	LastTransfer     int64    `json:"lastTransfer"`
	Rarity           string   `json:"rarity"`
	GeneratedLocally bool     `json:"generatedLocally"`
}
