package objects

import "strconv"

// linkFormatForObject renders "</oid/iid>,</oid/iid>..." for every
// instance of objectID, per spec §6's link-format output.
func linkFormatForObject(objectID uint16, instanceIDs []uint16) []byte {
	out := ""
	for i, iid := range instanceIDs {
		if i > 0 {
			out += ","
		}
		out += "</" + strconv.Itoa(int(objectID)) + "/" + strconv.Itoa(int(iid)) + ">"
	}
	return []byte(out)
}
