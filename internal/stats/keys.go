package stats

import (
	"strconv"
	"time"
)

const keyPrefix = "stats:"

// scopePrefix is shared by every cached payload of a user or family scope.
func scopePrefix(userID int64, familyID *int64) string {
	if familyID != nil {
		return keyPrefix + "family:" + strconv.FormatInt(*familyID, 10) + ":"
	}
	return keyPrefix + "user:" + strconv.FormatInt(userID, 10) + ":"
}

func keyDashboard(userID int64, month string) string {
	return scopePrefix(userID, nil) + "dashboard:" + month
}

func keyReport(userID int64, familyID *int64, start, end time.Time) string {
	return scopePrefix(userID, familyID) + "report:" +
		strconv.FormatInt(start.Unix(), 10) + "-" + strconv.FormatInt(end.Unix(), 10)
}
