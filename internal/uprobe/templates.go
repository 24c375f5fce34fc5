package uprobe

// openSSLProbeSpecs are plain specs (no symbol search needed):
// libssl's entry points are unmangled C symbols at known names.
var openSSLProbeSpecs = []ProbeSpec{
	{Symbol: "SSL_write", Attach: AttachEntry, ProbeFn: "probe_entry_SSL_write"},
	{Symbol: "SSL_write", Attach: AttachReturn, ProbeFn: "probe_ret_SSL_write"},
	{Symbol: "SSL_read", Attach: AttachEntry, ProbeFn: "probe_entry_SSL_read"},
	{Symbol: "SSL_read", Attach: AttachReturn, ProbeFn: "probe_ret_SSL_read"},
}

// goTLSProbeTemplates trace crypto/tls reads and writes. Returns use
// ret-instruction probes rather than uretprobes: Go's stack copying
// breaks uretprobe return-address patching.
var goTLSProbeTemplates = []ProbeTemplate{
	{
		Symbol:  "crypto/tls.(*Conn).Write",
		Match:   MatchExact,
		Attach:  AttachEntry,
		ProbeFn: "probe_entry_tls_conn_write",
	},
	{
		Symbol:  "crypto/tls.(*Conn).Write",
		Match:   MatchExact,
		Attach:  AttachReturnInsts,
		ProbeFn: "probe_ret_tls_conn_write",
	},
	{
		Symbol:  "crypto/tls.(*Conn).Read",
		Match:   MatchExact,
		Attach:  AttachEntry,
		ProbeFn: "probe_entry_tls_conn_read",
	},
	{
		Symbol:  "crypto/tls.(*Conn).Read",
		Match:   MatchExact,
		Attach:  AttachReturnInsts,
		ProbeFn: "probe_ret_tls_conn_read",
	},
}

// goHTTP2ProbeTemplates trace the http2 frame writer/reader paths,
// both the vendored golang.org/x/net copy inside net/http and the
// standalone module, hence suffix matching.
var goHTTP2ProbeTemplates = []ProbeTemplate{
	{
		Symbol:  "http2.(*Framer).WriteDataPadded",
		Match:   MatchSuffix,
		Attach:  AttachEntry,
		ProbeFn: "probe_http2_framer_write_data",
	},
	{
		Symbol:  "http2.(*Framer).checkFrameOrder",
		Match:   MatchSuffix,
		Attach:  AttachEntry,
		ProbeFn: "probe_http2_framer_check_frame_order",
	},
	{
		Symbol:  "http2.(*loopyWriter).writeHeader",
		Match:   MatchSuffix,
		Attach:  AttachEntry,
		ProbeFn: "probe_loopy_writer_write_header",
	},
	{
		Symbol:  "http2.(*http2Framer).WriteDataPadded",
		Match:   MatchSuffix,
		Attach:  AttachEntry,
		ProbeFn: "probe_http2_http2framer_write_data",
	},
}
