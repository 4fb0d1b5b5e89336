package bus

import "time"

func unixMilliNow() int64 {
	return time.Now().UnixMilli()
}
