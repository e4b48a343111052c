package storage

import "net/url"

// Blob key conventions. These exact layouts are load-bearing: existing
// objects were written under them, so changing either breaks old jobs.
//
//	original document: originals/{jobID}/{urlEncodedFileName}
//	result JSON:       output/{jobID}/{urlEncodedFileName}.json
//	legacy result:     output/{jobID}/{fileName}.json (unencoded)
//
// The legacy form predates URL-encoded keys; readers must probe the
// encoded key first and fall back to the legacy one.

func OriginalKey(jobID, fileName string) string {
	return "originals/" + jobID + "/" + url.PathEscape(fileName)
}

func ResultKey(jobID, fileName string) string {
	return "output/" + jobID + "/" + url.PathEscape(fileName) + ".json"
}

func LegacyResultKey(jobID, fileName string) string {
	return "output/" + jobID + "/" + fileName + ".json"
}

// ResultKeyCandidates returns the result keys to probe, in priority order.
func ResultKeyCandidates(jobID, fileName string) []string {
	encoded := ResultKey(jobID, fileName)
	legacy := LegacyResultKey(jobID, fileName)
	if encoded == legacy {
		return []string{encoded}
	}
	return []string{encoded, legacy}
}
