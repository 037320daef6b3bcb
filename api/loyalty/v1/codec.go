// Package loyaltyv1 declares the loyalty.v1.LoyaltyService gRPC contract.
//
// Messages travel as JSON through a codec registered under the "json"
// content subtype; clients built by NewLoyaltyServiceClient request it on
// every call.
package loyaltyv1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype used by the service.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("loyaltyv1 marshal %T: %w", value, err)
	}
	return raw, nil
}

func (jsonCodec) Unmarshal(data []byte, value any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, value); err != nil {
		return fmt.Errorf("loyaltyv1 unmarshal %T: %w", value, err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return CodecName
}
