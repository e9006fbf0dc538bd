package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/pkg/model"
)

func TestNormalizeZeekJSONConn(t *testing.T) {
	payload := `{"ts":1636305825.755132,"uid":"Cabc123","id.orig_h":"10.0.0.5","id.orig_p":443,"id.resp_h":"10.0.0.6","id.resp_p":80,"proto":"tcp","duration":1.5,"orig_bytes":100,"resp_bytes":200}`
	f, ok := Normalize(model.RawRecord{Kind: model.SourceZeekJSON, Payload: payload})
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", f.SrcAddr)
	assert.Equal(t, "10.0.0.6", f.DstAddr)
	assert.Equal(t, 443, f.SrcPort)
	assert.Equal(t, "tcp", f.Proto)
	assert.Nil(t, f.ARP)
}

func TestNormalizeZeekJSONArp(t *testing.T) {
	payload := `{"ts":1636305825.755132,"operation":"reply","src_mac":"2e:a4:18:f8:3d:02","dst_mac":"ff:ff:ff:ff:ff:ff","orig_h":"172.20.7.40","resp_h":"172.20.7.40","orig_hw":"2e:a4:18:f8:3d:02","resp_hw":"00:00:00:00:00:00"}`
	f, ok := Normalize(model.RawRecord{Kind: model.SourceZeekJSON, Payload: payload})
	require.True(t, ok)
	require.NotNil(t, f.ARP)
	assert.Equal(t, "reply", f.ARP.Operation)
	assert.True(t, f.IsGratuitous())
}

func TestNormalizeZeekJSONMalformed(t *testing.T) {
	_, ok := Normalize(model.RawRecord{Kind: model.SourceZeekJSON, Payload: "not json"})
	assert.False(t, ok)
}

func TestNormalizeZeekTabs(t *testing.T) {
	rec := model.RawRecord{
		Kind:    model.SourceZeekTabs,
		Payload: "1636305825.755132\tCabc123\t10.0.0.5\t443\t10.0.0.6\t80\ttcp\t-\t1.5\t100\t200\t-\t-\t-\t0\t-\t1\t100\t1\t100\t-",
	}
	f, ok := Normalize(rec)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", f.SrcAddr)
	assert.Equal(t, 443, f.SrcPort)
}

func TestNormalizeArgus(t *testing.T) {
	rec := model.RawRecord{
		Kind:    model.SourceArgus,
		Payload: "1636305825.755132,1.5,tcp,10.0.0.5,443,->,10.0.0.6,80,CON,100,200",
	}
	f, ok := Normalize(rec)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", f.SrcAddr)
	assert.Equal(t, "10.0.0.6", f.DstAddr)
	assert.Equal(t, int64(100), f.SrcBytes)
}

func TestNormalizeSuricataFlow(t *testing.T) {
	payload := `{"timestamp":"2021-11-07T16:03:45.755132+0000","event_type":"flow","src_ip":"10.0.0.5","src_port":443,"dest_ip":"10.0.0.6","dest_port":80,"proto":"TCP","flow":{"bytes_toserver":100,"bytes_toclient":200,"pkts_toserver":2,"pkts_toclient":3,"age":1}}`
	f, ok := Normalize(model.RawRecord{Kind: model.SourceSuricata, Payload: payload})
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", f.SrcAddr)
	assert.Equal(t, int64(100), f.SrcBytes)
}

func TestNormalizeNfdump(t *testing.T) {
	rec := model.RawRecord{
		Kind:    model.SourceNfdump,
		Payload: "1636305825.0,1636305826.0,1.0,TCP,10.0.0.5,10.0.0.6,443,80,CON,0,0,100",
	}
	f, ok := Normalize(rec)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", f.SrcAddr)
	assert.Equal(t, int64(100), f.SrcBytes)
}

func TestNormalizeUnknownKind(t *testing.T) {
	_, ok := Normalize(model.RawRecord{Kind: model.SourceKind("bogus"), Payload: "x"})
	assert.False(t, ok)
}
