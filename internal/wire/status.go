package wire

// Status is the structured body returned for every non-streamed response.
type Status struct {
	Code        int    `json:"code"`
	Error       string `json:"error,omitempty"`
	Description string `json:"description"`
}

// SyncInfo describes a device's last sync, returned with a failed
// upload precondition.
type SyncInfo struct {
	RevisionNumber int64  `json:"revisionNumber"`
	Device         string `json:"device"`
	Dictionary     string `json:"dictionary"`
	Universe       string `json:"universe"`
	Direction      string `json:"direction"`
	DateTime       string `json:"dateTime"`
}

// ServerInfo is returned by the server info endpoint.
type ServerInfo struct {
	DeviceID   string `json:"deviceId"`
	APIVersion string `json:"apiVersion"`
}

// Token is the OAuth style token response.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// DictionaryInfo is one row of the dictionary listing.
type DictionaryInfo struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	CaseCount int64  `json:"caseCount"`
}

// SyncEntry is one row of the sync history listing.
type SyncEntry struct {
	Revision         int64  `json:"revision"`
	Device           string `json:"device"`
	UserName         string `json:"username"`
	Direction        string `json:"direction"`
	Universe         string `json:"universe"`
	LastCaseRevision int64  `json:"lastCaseRevision"`
	LastCaseID       string `json:"lastCaseId,omitempty"`
	Committed        bool   `json:"committed"`
	DateTime         string `json:"dateTime"`
}
