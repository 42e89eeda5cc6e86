package session

// Prerequisite messages are part of the tool contract: clients key off
// them to learn which call comes next, so the wording is fixed.
const (
	MsgNoPCAP     = "No PCAP uploaded. Call upload_pcap_base64 first."
	MsgNoJSON     = "No JSON found. Call convert_to_json first."
	MsgNotIndexed = "PCAP not indexed yet. Call index_pcap first."
)

// NotReadyError reports a pipeline stage invoked before its
// prerequisite stage completed.
type NotReadyError struct {
	Msg string
}

func (e *NotReadyError) Error() string { return e.Msg }

// UploadError reports a rejected or failed upload.
type UploadError struct {
	Msg string
	Err error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *UploadError) Unwrap() error { return e.Err }
