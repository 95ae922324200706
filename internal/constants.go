package internal

import "time"

var OneSecond = 1 * time.Second
var FiveSeconds = 5 * time.Second
var ThirtySeconds = 30 * time.Second
var OneMinute = 1 * time.Minute

// OneHour is how long schedule and standings are served before they are refreshed
var OneHour = 1 * time.Hour
