// Package mesh is the boundary to the attached radio: node-id helpers, the
// adapter from loosely structured packet records to typed ones, and Bridge,
// the Transport used by the dashboard.
//
// Bridge does not speak the radio's own framed protobuf API (TCP port 4403).
// It talks to a bridge process that owns the serial or network link to the
// node and relays it as newline-delimited JSON over TCP, by default on port
// 4410. Every line is one JSON object.
//
// Requests, sent by meshmon:
//
//	{"id":"<uuid>","method":"<name>","params":{...}}
//
// Responses, one per request, matched by id:
//
//	{"id":"<uuid>","result":<value>}
//	{"id":"<uuid>","error":"<text>","code":"<code>"}
//
// The code "connection_reset" means the radio dropped the link while
// executing the command (expected after a reboot or some config writes).
//
// Events, pushed by the bridge at any time:
//
//	{"event":"packet","packet":{"from":..,"to":..,"rxTime":..,"decoded":{..}}}
//	{"event":"connection_lost"}
//
// Methods and their results:
//
//	hello            {"protocol":"meshmon-bridge/1"}; sent first on every connect
//	nodes            {"!xxxxxxxx": {node record}, ...}
//	local_node       {"num":N,"node":{..},"metadata":{..},"role":N}
//	channels         [{"index","role","name","psk","uplink_enabled","downlink_enabled"}]
//	send_text        params {"text","destination","channel_index"}
//	send_traceroute  params {"destination","hop_limit","channel_index"}
//	get_config       params {"section"}; result is the section's fields
//	set_config       params {"section","values"}
//	set_channel      params: one channel object
//	reboot           no params
//
// Packet and node records use the radio library's field names (camelCase,
// node numbers as integers, node table keyed by "!xxxxxxxx").
package mesh
