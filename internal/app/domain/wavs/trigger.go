package wavs

import "time"

// TriggerKind tags which variant of TriggerConfig is populated.
type TriggerKind int

const (
	TriggerManual TriggerKind = iota
	TriggerEvmContractEvent
	TriggerCosmosContractEvent
	TriggerBlockInterval
	TriggerCron
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerManual:
		return "manual"
	case TriggerEvmContractEvent:
		return "evm_contract_event"
	case TriggerCosmosContractEvent:
		return "cosmos_contract_event"
	case TriggerBlockInterval:
		return "block_interval"
	case TriggerCron:
		return "cron"
	default:
		return "unknown"
	}
}

// TriggerConfig is the `(trigger)` leg of a Workflow; exactly the fields for
// Kind are meaningful.
type TriggerConfig struct {
	Kind TriggerKind

	// EvmContractEvent / CosmosContractEvent / BlockInterval share Chain.
	Chain   ChainKey
	Address string // EvmContractEvent, CosmosContractEvent, EthereumContract submit

	// EvmContractEvent.
	EventHash string

	// CosmosContractEvent.
	EventType string

	// BlockInterval.
	NBlocks    uint64
	StartBlock *uint64
	EndBlock   *uint64 // inclusive

	// Cron.
	Schedule  string
	StartTime *time.Time
	EndTime   *time.Time // exclusive
}

// TriggerDataKind tags which variant of TriggerData is populated.
type TriggerDataKind int

const (
	DataEvmContractEvent TriggerDataKind = iota
	DataCosmosContractEvent
	DataBlockInterval
	DataCron
	DataRaw
)

// TriggerData carries the payload produced when a trigger fires.
type TriggerData struct {
	Kind TriggerDataKind

	// EvmContractEvent / CosmosContractEvent.
	BlockNumber     uint64
	TxHash          string
	LogIndex        uint32
	ContractAddress string
	Topics          []string
	EventAttrs      map[string]string

	// BlockInterval.
	Height uint64

	// Cron.
	TriggerTime time.Time

	// Raw.
	Raw []byte
}

// TriggerAction is emitted by the trigger manager into the engine pool.
type TriggerAction struct {
	ServiceId  ServiceId
	WorkflowId WorkflowId
	Config     TriggerConfig
	Data       TriggerData
}

// SubscriptionKey identifies one workflow's subscription within the trigger
// manager; (service_id, workflow_id) pairs are unique.
type SubscriptionKey struct {
	ServiceId  ServiceId
	WorkflowId WorkflowId
}
