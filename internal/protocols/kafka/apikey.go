// Package kafka implements frame parsing and request/response
// stitching for the Kafka wire protocol. It is a thinner peer of the
// cql package: frames are split and correlated, and message bodies
// are surfaced at the header level rather than fully decoded.
package kafka

// APIKey identifies a Kafka request type. Responses do not carry one
// on the wire; the stitcher propagates it from the matched request.
type APIKey int16

const (
	APIProduce         APIKey = 0
	APIFetch           APIKey = 1
	APIListOffsets     APIKey = 2
	APIMetadata        APIKey = 3
	APIOffsetCommit    APIKey = 8
	APIOffsetFetch     APIKey = 9
	APIFindCoordinator APIKey = 10
	APIJoinGroup       APIKey = 11
	APIHeartbeat       APIKey = 12
	APILeaveGroup      APIKey = 13
	APISyncGroup       APIKey = 14
	APIDescribeGroups  APIKey = 15
	APIListGroups      APIKey = 16
	APISaslHandshake   APIKey = 17
	APIVersions        APIKey = 18
	APICreateTopics    APIKey = 19
	APIDeleteTopics    APIKey = 20
)

func (k APIKey) String() string {
	switch k {
	case APIProduce:
		return "Produce"
	case APIFetch:
		return "Fetch"
	case APIListOffsets:
		return "ListOffsets"
	case APIMetadata:
		return "Metadata"
	case APIOffsetCommit:
		return "OffsetCommit"
	case APIOffsetFetch:
		return "OffsetFetch"
	case APIFindCoordinator:
		return "FindCoordinator"
	case APIJoinGroup:
		return "JoinGroup"
	case APIHeartbeat:
		return "Heartbeat"
	case APILeaveGroup:
		return "LeaveGroup"
	case APISyncGroup:
		return "SyncGroup"
	case APIDescribeGroups:
		return "DescribeGroups"
	case APIListGroups:
		return "ListGroups"
	case APISaslHandshake:
		return "SaslHandshake"
	case APIVersions:
		return "ApiVersions"
	case APICreateTopics:
		return "CreateTopics"
	case APIDeleteTopics:
		return "DeleteTopics"
	default:
		return "Unknown"
	}
}

// knownAPIKeys is the closed set the boundary finder treats as a
// plausible request header.
var knownAPIKeys = map[APIKey]bool{
	APIProduce: true, APIFetch: true, APIListOffsets: true, APIMetadata: true,
	APIOffsetCommit: true, APIOffsetFetch: true, APIFindCoordinator: true,
	APIJoinGroup: true, APIHeartbeat: true, APILeaveGroup: true,
	APISyncGroup: true, APIDescribeGroups: true, APIListGroups: true,
	APISaslHandshake: true, APIVersions: true, APICreateTopics: true,
	APIDeleteTopics: true,
}
