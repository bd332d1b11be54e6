package proto

import (
	"github.com/fxamacker/cbor/v2"
)

// ChannelStat is a point-in-time view of one channel. It is the payload of
// STAT responses, CBOR encoded.
type ChannelStat struct {
	Identity  uint32 `cbor:"identity"`
	Openers   int    `cbor:"openers"`
	Occupancy uint32 `cbor:"occupancy"`
	FreeSpace uint32 `cbor:"free_space"`
	Capacity  uint32 `cbor:"capacity"`
	Waiters   int    `cbor:"waiters"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("proto: CBOR encoder initialization failed: " + err.Error())
	}
}

func EncodeStat(stat ChannelStat) ([]byte, error) {
	return encMode.Marshal(stat)
}

func DecodeStat(data []byte) (ChannelStat, error) {
	var stat ChannelStat
	err := cbor.Unmarshal(data, &stat)
	return stat, err
}
