package api

// vnpayMessages maps vnp_ResponseCode to the text shown to the customer
var vnpayMessages = map[string]string{
	"00": "Giao dịch thành công",
	"07": "Trừ tiền thành công, giao dịch đang được kiểm tra",
	"09": "Thẻ hoặc tài khoản chưa đăng ký Internet Banking",
	"10": "Xác thực thông tin thẻ hoặc tài khoản không đúng quá 3 lần",
	"11": "Đã hết hạn chờ thanh toán",
	"12": "Thẻ hoặc tài khoản bị khóa",
	"13": "Nhập sai mật khẩu OTP",
	"24": "Bạn đã hủy giao dịch",
	"51": "Tài khoản không đủ số dư",
	"65": "Tài khoản đã vượt quá hạn mức giao dịch trong ngày",
	"75": "Ngân hàng thanh toán đang bảo trì",
	"79": "Nhập sai mật khẩu thanh toán quá số lần quy định",
	"99": "Giao dịch không thành công",
}

// momoMessages maps MoMo resultCode to the text shown to the customer
var momoMessages = map[string]string{
	"0":    "Giao dịch thành công",
	"1000": "Giao dịch đang chờ người dùng xác nhận",
	"1001": "Tài khoản không đủ số dư",
	"1003": "Giao dịch đã bị hủy",
	"1005": "Mã thanh toán đã hết hạn",
	"1006": "Bạn đã từ chối xác nhận thanh toán",
	"9000": "Giao dịch đã được xác nhận",
}
