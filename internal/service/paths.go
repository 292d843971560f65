package service

func roomPath(code string) string {
	return "rooms/" + code
}

func playerPath(code, userID string) string {
	return "rooms/" + code + "/players/" + userID
}

func activitiesPath(code string) string {
	return "rooms/" + code + "/activities"
}

func activityPath(code, id string) string {
	return "rooms/" + code + "/activities/" + id
}

func activeUserPath(code, id, userID string) string {
	return "rooms/" + code + "/activities/" + id + "/activeUsers/" + userID
}

func messagesPath(code, id string) string {
	return "rooms/" + code + "/activities/" + id + "/messages"
}

func gameStatePath(code, id string) string {
	return "rooms/" + code + "/activities/" + id + "/gameState"
}
