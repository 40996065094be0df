package config

type WorkerKeyStruct struct {
	ResultNotificationsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	ResultNotificationsQueue: "result_notifications_queue",
}
