package manifest

var locations = map[Browser]location{
	Firefox:  {user: "Library/Application Support/Mozilla/NativeMessagingHosts", system: "/Library/Application Support/Mozilla/NativeMessagingHosts"},
	Chrome:   {user: "Library/Application Support/Google/Chrome/NativeMessagingHosts", system: "/Library/Google/Chrome/NativeMessagingHosts"},
	Chromium: {user: "Library/Application Support/Chromium/NativeMessagingHosts", system: "/Library/Application Support/Chromium/NativeMessagingHosts"},
}
