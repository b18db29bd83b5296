package manifest

var locations = map[Browser]location{
	Firefox:  {user: ".mozilla/native-messaging-hosts", system: "/usr/lib/mozilla/native-messaging-hosts"},
	Chrome:   {user: ".config/google-chrome/NativeMessagingHosts", system: "/etc/opt/chrome/native-messaging-hosts"},
	Chromium: {user: ".config/chromium/NativeMessagingHosts", system: "/etc/chromium/native-messaging-hosts"},
}
